package events

import (
	"math/big"
	"strconv"
	"strings"
)

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func uintToString(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func joinPercentages(values []uint8) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatUint(uint64(v), 10)
	}
	return strings.Join(parts, ",")
}
