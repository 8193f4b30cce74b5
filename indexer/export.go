package indexer

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type payoutRow struct {
	Repository string `parquet:"name=repository, type=BYTE_ARRAY, convertedtype=UTF8"`
	IssueID    int64  `parquet:"name=issue_id, type=INT64"`
	GithubID   string `parquet:"name=github_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Claimer    string `parquet:"name=claimer, type=BYTE_ARRAY, convertedtype=UTF8"`
	Mint       string `parquet:"name=mint, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount     string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	ClaimedAt  string `parquet:"name=claimed_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportPayoutsParquet writes every recorded claim to a parquet file at path
// and returns the number of rows written.
func (idx *Indexer) ExportPayoutsParquet(ctx context.Context, path string) (int, error) {
	claims, err := idx.ListClaims(ctx, "", nil)
	if err != nil {
		return 0, err
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("indexer: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(payoutRow), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("indexer: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, c := range claims {
		row := &payoutRow{
			Repository: c.Repository,
			IssueID:    int64(c.IssueID),
			GithubID:   c.GithubID,
			Claimer:    c.Claimer,
			Mint:       c.Mint,
			Amount:     c.Amount,
			ClaimedAt:  c.ClaimedAt.UTC().Format(time.RFC3339),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return 0, fmt.Errorf("indexer: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return 0, fmt.Errorf("indexer: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("indexer: close parquet file: %w", err)
	}
	return len(claims), nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func joinPercentages(values []uint8) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatUint(uint64(v), 10)
	}
	return strings.Join(parts, ",")
}
