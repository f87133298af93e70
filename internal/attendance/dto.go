package attendance

import "time"

const (
	// DayKeyLayout: meta のキー（"YYYY/MM/DD"）
	DayKeyLayout = "2006/01/02"
	DateLayout   = "2006-01-02"
	DefaultTZ    = "Asia/Tokyo"
	DaysPerWeek  = 7
)

// Marker: リアクション絵文字と回答ラベルの対応
type Marker struct {
	Emoji string
	Label string
}

// 宣言順にメッセージへ付与する
var Markers = []Marker{
	{Emoji: "⭕", Label: "行ける"},
	{Emoji: "❌", Label: "行けない"},
	{Emoji: "🤷", Label: "ドタキャンの可能性はあるけど行きたいので組み込んで"},
	{Emoji: "⏰", Label: "時間の調整あればいける"},
}

// Target: コマンドを実行したサーバーとチャンネル
type Target struct {
	ServerID  string
	ChannelID string
}

// WeekDay: 週計算の1日分
type WeekDay struct {
	Date    time.Time
	Key     string
	Weekday string
}

type RecordResponse struct {
	RecordULID string    `json:"record_ulid"`
	ServerID   string    `json:"server_id"`
	WeekStart  string    `json:"week_start"` // YYYY-MM-DD
	Meta       Meta      `json:"meta"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
