package attendance

import (
	"time"

	"golang.org/x/text/language"
)

// WeekdayLabels: 月曜(0)〜日曜(6)の表示名
type WeekdayLabels [DaysPerWeek]string

var (
	labelTags = []language.Tag{language.Japanese, language.English}
	labelSets = []WeekdayLabels{
		{"月", "火", "水", "木", "金", "土", "日"},
		{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"},
	}
	labelMatcher = language.NewMatcher(labelTags)
)

// LabelsFor: ロケールに最も近い曜日ラベル。不明なら日本語。
func LabelsFor(locale string) WeekdayLabels {
	tag, err := language.Parse(locale)
	if err != nil {
		return labelSets[0]
	}
	_, idx, _ := labelMatcher.Match(tag)
	return labelSets[idx]
}

// WeekOf: now を loc の暦日に直し、次の月曜（今日が月曜なら今日）から7日分を返す。
func WeekOf(now time.Time, loc *time.Location, labels WeekdayLabels) []WeekDay {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	y, m, d := local.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)

	// time.Weekday は日曜=0 なので月曜=0 に寄せる
	w := (int(local.Weekday()) + 6) % 7
	base := today
	if w != 0 {
		base = today.AddDate(0, 0, (7-w)%7)
	}

	out := make([]WeekDay, DaysPerWeek)
	for i := 0; i < DaysPerWeek; i++ {
		day := base.AddDate(0, 0, i)
		out[i] = WeekDay{
			Date:    day,
			Key:     day.Format(DayKeyLayout),
			Weekday: labels[i],
		}
	}
	return out
}
