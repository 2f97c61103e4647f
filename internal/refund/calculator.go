// Package refund считает возвраты при отмене брони по уровням политики.
// Чистые вычисления без побочных эффектов: уровни заданы данными,
// новые добавляются регистрацией, без изменения калькулятора.
package refund

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Rule полоса возврата: процент действует при уведомлении не позднее чем
// за MinHoursBefore часов до начала дня заезда.
type Rule struct {
	MinHoursBefore int
	Percent        int
}

// Tier именованная политика отмены. Неизменяема после регистрации,
// привязывается к номеру или брони на момент создания.
type Tier struct {
	Name  string
	Rules []Rule // по убыванию MinHoursBefore, первая полоса — полный возврат

	// Окно обработки возврата, рабочие дни. Только для отображения.
	ProcessingDaysMin int
	ProcessingDaysMax int
}

// FreeCancellationHours крайний срок бесплатной отмены в часах до заезда
func (t Tier) FreeCancellationHours() int {
	for _, r := range t.Rules {
		if r.Percent == 100 {
			return r.MinHoursBefore
		}
	}
	return 0
}

var (
	mu    sync.RWMutex
	tiers = map[string]Tier{}
)

// Register добавляет или заменяет уровень. Правила нормализуются
// по убыванию MinHoursBefore.
func Register(t Tier) {
	sort.Slice(t.Rules, func(i, j int) bool {
		return t.Rules[i].MinHoursBefore > t.Rules[j].MinHoursBefore
	})
	mu.Lock()
	defer mu.Unlock()
	tiers[t.Name] = t
}

// Get возвращает уровень по имени
func Get(name string) (Tier, bool) {
	mu.RLock()
	defer mu.RUnlock()
	t, ok := tiers[name]
	return t, ok
}

// MustGet возвращает уровень по имени или паникует — для конфигурации при старте
func MustGet(name string) Tier {
	t, ok := Get(name)
	if !ok {
		panic(fmt.Sprintf("refund: unknown tier %q", name))
	}
	return t
}

func init() {
	Register(Tier{
		Name: "FLEXIBLE",
		Rules: []Rule{
			{MinHoursBefore: 24, Percent: 100},
			{MinHoursBefore: 0, Percent: 0},
		},
		ProcessingDaysMin: 3,
		ProcessingDaysMax: 5,
	})
	Register(Tier{
		Name: "MODERATE",
		Rules: []Rule{
			{MinHoursBefore: 120, Percent: 100},
			{MinHoursBefore: 24, Percent: 50},
			{MinHoursBefore: 0, Percent: 0},
		},
		ProcessingDaysMin: 5,
		ProcessingDaysMax: 7,
	})
	Register(Tier{
		Name: "STRICT",
		Rules: []Rule{
			{MinHoursBefore: 168, Percent: 100},
			{MinHoursBefore: 72, Percent: 50},
			{MinHoursBefore: 0, Percent: 0},
		},
		ProcessingDaysMin: 7,
		ProcessingDaysMax: 10,
	})
}

// Quote результат расчёта возврата
type Quote struct {
	Percent            int       `json:"percent"`
	Amount             int64     `json:"amount"` // в центах
	FullRefundDeadline time.Time `json:"full_refund_deadline"`
	ProcessingDaysMin  int       `json:"processing_days_min"`
	ProcessingDaysMax  int       `json:"processing_days_max"`
}

// Calculate считает возврат для уровня tier: часы до заезда меряются до
// начала дня заезда, берётся первая полоса с достаточным уведомлением.
// Сумма округляется до цента банковским округлением.
func Calculate(tier Tier, checkIn time.Time, totalPrice int64, now time.Time) Quote {
	start := startOfDay(checkIn)
	hours := start.Sub(now).Hours()

	percent := 0
	for _, r := range tier.Rules {
		if hours >= float64(r.MinHoursBefore) {
			percent = r.Percent
			break
		}
	}

	return Quote{
		Percent:            percent,
		Amount:             roundHalfEven(totalPrice*int64(percent), 100),
		FullRefundDeadline: start.Add(-time.Duration(tier.FreeCancellationHours()) * time.Hour),
		ProcessingDaysMin:  tier.ProcessingDaysMin,
		ProcessingDaysMax:  tier.ProcessingDaysMax,
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// roundHalfEven целочисленное деление numerator/denom с округлением
// к ближайшему, при равенстве — к чётному
func roundHalfEven(numerator, denom int64) int64 {
	q := numerator / denom
	r := numerator % denom
	switch {
	case 2*r < denom:
		return q
	case 2*r > denom:
		return q + 1
	case q%2 == 0:
		return q
	default:
		return q + 1
	}
}
