package events

import (
	"math/big"
	"strconv"

	"stakevault/crypto"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatAccount(addr [20]byte) string {
	return crypto.FromRaw(addr).String()
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
