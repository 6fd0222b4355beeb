package allocation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusOf(t *testing.T) {
	cases := []struct {
		name   string
		target Target
		want   Status
	}{
		{"settled", invoice(1, "A", -10, "100", "0"), StatusPaid},
		{"within tolerance", invoice(1, "A", -10, "100", "0.01"), StatusPaid},
		{"overdue beats partly paid", invoice(1, "A", -1, "100", "40"), StatusOverdue},
		{"partly paid", invoice(1, "A", 0, "100", "40"), StatusPartlyPaid},
		{"unpaid", invoice(1, "A", 3, "100", "100"), StatusUnpaid},
		{"unpaid overdue", invoice(1, "A", -3, "100", "100"), StatusOverdue},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, StatusOf(tc.target, today))
		})
	}
}

func TestAgingOf(t *testing.T) {
	cases := []struct {
		overdue int
		want    AgingBucket
	}{
		{-5, AgingNotDue},
		{0, AgingNotDue},
		{1, Aging1To30},
		{30, Aging1To30},
		{31, Aging31To60},
		{60, Aging31To60},
		{61, Aging61To90},
		{90, Aging61To90},
		{91, AgingOver90},
	}
	for _, tc := range cases {
		target := invoice(1, "A", -tc.overdue, "100", "100")
		require.Equal(t, tc.want, AgingOf(target, today), "days overdue %d", tc.overdue)
		require.Equal(t, tc.overdue, DaysOverdue(target, today))
	}

	paid := invoice(1, "A", -120, "100", "0")
	require.Equal(t, AgingNotDue, AgingOf(paid, today))
}

func TestDaysOverdueIgnoresTimeOfDay(t *testing.T) {
	target := invoice(1, "A", 0, "10", "10")
	target.DueDate = today.Add(23 * time.Hour)
	require.Equal(t, 0, DaysOverdue(target, today.Add(time.Second)))
	require.Equal(t, StatusUnpaid, StatusOf(target, today.Add(time.Second)))
}
