package alerts

import (
	"time"

	"github.com/stockterm/terminalapi/internal/models"
	"github.com/stockterm/terminalapi/pkg/utils/zaplogger"
)

// Evaluate decides whether a single (alert, tick) pair fires. Unknown
// operators, lhs types and malformed payloads evaluate to false so a bad
// alert can never wedge the tick path.
func Evaluate(alert *models.AlertModel, update models.ChangeUpdate) bool {
	if alert.LhsType != "last_price" {
		zaplogger.Warn("Unsupported lhs_type", zaplogger.Fields{"lhs_type": alert.LhsType, "alert": alert.ID})
		return false
	}

	lhs := update.Ltp

	var rhs float64
	switch alert.RhsType {
	case models.RhsTypeConstant:
		v, ok := alert.ConstantValue()
		if !ok {
			zaplogger.Warn("Invalid constant value in alert", zaplogger.Fields{"alert": alert.ID})
			return false
		}
		rhs = v
	case models.RhsTypeTrendLine:
		points, ok := alert.TrendlinePoints()
		if !ok || len(points) != 2 {
			zaplogger.Warn("Invalid trend line in alert", zaplogger.Fields{"alert": alert.ID})
			return false
		}
		rhs = interpolateTrendline(points[0], points[1], update.Ltt)
	default:
		zaplogger.Warn("Unsupported rhs_type", zaplogger.Fields{"rhs_type": alert.RhsType, "alert": alert.ID})
		return false
	}

	switch alert.Operator {
	case models.OperatorGT:
		return lhs > rhs
	case models.OperatorGTE:
		return lhs >= rhs
	case models.OperatorLT:
		return lhs < rhs
	case models.OperatorLTE:
		return lhs <= rhs
	case models.OperatorEQ:
		return lhs == rhs
	case models.OperatorNEQ:
		return lhs != rhs
	default:
		zaplogger.Warn("Unsupported operator", zaplogger.Fields{"operator": alert.Operator, "alert": alert.ID})
		return false
	}
}

// interpolateTrendline evaluates the line through two (timestamp, price)
// points at the given instant. Extrapolation outside the point span is
// intentional; callers that want strict bounds must pre-filter.
func interpolateTrendline(p1, p2 models.TrendlinePoint, now time.Time) float64 {
	older, newer := p1, p2
	if p2.Timestamp.Before(p1.Timestamp) {
		older, newer = p2, p1
	}

	t0 := float64(older.Timestamp.UnixNano()) / 1e9
	t1 := float64(newer.Timestamp.UnixNano()) / 1e9
	if t1 == t0 {
		return newer.Price
	}

	at := float64(now.UnixNano()) / 1e9
	slope := (newer.Price - older.Price) / (t1 - t0)
	return older.Price + slope*(at-t0)
}
