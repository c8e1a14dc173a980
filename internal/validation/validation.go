// Package validation provides input validation and amount parsing for the raffle service.
package validation

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"golang.org/x/mod/semver"
)

var (
	weiPerEther = big.NewInt(params.Ether)
	weiPerGwei  = big.NewInt(params.GWei)
)

// ValidateAddress validates an Ethereum address
func ValidateAddress(addr string) error {
	if len(addr) != 42 {
		return errors.New("invalid address length: must be 42 characters (0x + 40 hex)")
	}
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return errors.New("invalid address: must start with 0x")
	}
	if !common.IsHexAddress(addr) {
		return errors.New("invalid address: contains non-hex characters")
	}
	return nil
}

// ParseAddress validates and converts a hex address
func ParseAddress(addr string) (common.Address, error) {
	if err := ValidateAddress(addr); err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(addr), nil
}

// ValidateChainID validates a chain ID
func ValidateChainID(chainID int64) error {
	if chainID <= 0 {
		return errors.New("chain ID must be positive")
	}
	return nil
}

// ParseEther converts a decimal ether amount ("0.01") to wei.
// Amounts finer than one wei are rejected.
func ParseEther(s string) (*big.Int, error) {
	return parseDecimal(s, weiPerEther)
}

// ParseAmount parses a value with an optional unit suffix:
// "1000" and "1000wei" are wei, "5gwei" is gwei, "0.01ether" / "0.01eth" is ether.
func ParseAmount(s string) (*big.Int, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasSuffix(v, "ether"):
		return parseDecimal(strings.TrimSuffix(v, "ether"), weiPerEther)
	case strings.HasSuffix(v, "eth"):
		return parseDecimal(strings.TrimSuffix(v, "eth"), weiPerEther)
	case strings.HasSuffix(v, "gwei"):
		return parseDecimal(strings.TrimSuffix(v, "gwei"), weiPerGwei)
	case strings.HasSuffix(v, "wei"):
		return parseDecimal(strings.TrimSuffix(v, "wei"), big.NewInt(1))
	default:
		return parseDecimal(v, big.NewInt(1))
	}
}

func parseDecimal(s string, unit *big.Int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("amount cannot be empty")
	}
	if strings.HasPrefix(s, "-") {
		return nil, errors.New("amount cannot be negative")
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	r.Mul(r, new(big.Rat).SetInt(unit))
	if !r.IsInt() {
		return nil, fmt.Errorf("amount %q is not a whole number of wei", s)
	}
	return new(big.Int).Set(r.Num()), nil
}

// FormatEther renders a wei amount as a decimal ether string without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(wei, weiPerEther)
	s := r.FloatString(18)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// ValidateVersion validates a semantic version string
func ValidateVersion(v string) error {
	normalized := NormalizeVersion(v)
	if normalized == "" {
		return errors.New("version cannot be empty")
	}
	if !semver.IsValid("v" + normalized) {
		return errors.New("invalid semver version: must be in format X.Y.Z or X.Y.Z-prerelease")
	}
	mainPart := strings.SplitN(normalized, "-", 2)[0]
	if strings.Count(mainPart, ".") < 2 {
		return errors.New("invalid semver version: must be in format X.Y.Z (major.minor.patch)")
	}
	return nil
}

// NormalizeVersion normalizes a version string (strips leading 'v')
func NormalizeVersion(v string) string {
	return strings.TrimPrefix(v, "v")
}

// CompareVersions compares two versions
// Returns -1 if v1 < v2, 0 if v1 == v2, 1 if v1 > v2
func CompareVersions(v1, v2 string) int {
	return semver.Compare("v"+NormalizeVersion(v1), "v"+NormalizeVersion(v2))
}

// CompatibleVersions reports whether a client and server share a major version.
// Unparseable versions (e.g. "dev" builds) are treated as compatible.
func CompatibleVersions(client, server string) bool {
	c, s := "v"+NormalizeVersion(client), "v"+NormalizeVersion(server)
	if !semver.IsValid(c) || !semver.IsValid(s) {
		return true
	}
	return semver.Major(c) == semver.Major(s)
}
