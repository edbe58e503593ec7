package macros

// intervalSteps maps an upper bound in milliseconds to the rounded interval
// used below it.
var intervalSteps = []struct {
	below int64
	round int64
}{
	{15, 10},
	{35, 20},
	{75, 50},
	{150, 100},
	{350, 200},
	{750, 500},
	{1500, 1000},
	{3500, 2000},
	{7500, 5000},
	{12500, 10000},
	{17500, 15000},
	{25000, 20000},
	{45000, 30000},
	{90000, 60000},
	{210000, 120000},
	{450000, 300000},
	{750000, 600000},
	{1050000, 900000},
	{1500000, 1200000},
	{2700000, 1800000},
	{5400000, 3600000},
	{9000000, 7200000},
	{16200000, 10800000},
	{32400000, 21600000},
	{86400000, 43200000},
	{604800000, 86400000},
	{1814400000, 604800000},
	{3628800000, 2592000000},
}

// RoundInterval picks a readable interval, in milliseconds, close to the
// given one.
func RoundInterval(interval int64) int64 {
	for _, step := range intervalSteps {
		if interval < step.below {
			return step.round
		}
	}
	return 31536000000
}
