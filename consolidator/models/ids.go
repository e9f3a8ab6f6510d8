package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	planIDPrefix          = "plan"
	consolidationIDPrefix = "cons"
)

// NewPlanID returns plan-<unix ms base36>-<8 hex>
func NewPlanID(now time.Time) string {
	return newID(planIDPrefix, now)
}

// NewConsolidationID returns cons-<unix ms base36>-<8 hex>
func NewConsolidationID(now time.Time) string {
	return newID(consolidationIDPrefix, now)
}

func newID(prefix string, now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return prefix + "-" + strconv.FormatInt(now.UnixMilli(), 36) + "-" + random
}

// IsPlanID reports whether id looks like a plan id
func IsPlanID(id string) bool {
	return hasIDShape(id, planIDPrefix)
}

// IsConsolidationID reports whether id looks like a consolidation id
func IsConsolidationID(id string) bool {
	return hasIDShape(id, consolidationIDPrefix)
}

func hasIDShape(id, prefix string) bool {
	parts := strings.Split(id, "-")
	if len(parts) != 3 || parts[0] != prefix || len(parts[2]) != 8 {
		return false
	}
	if _, err := strconv.ParseInt(parts[1], 36, 64); err != nil {
		return false
	}
	_, err := strconv.ParseUint(parts[2], 16, 32)
	return err == nil
}
