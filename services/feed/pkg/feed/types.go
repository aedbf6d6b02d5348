// services/feed/pkg/feed/types.go
package feed

import (
	"encoding/json"
	"time"
)

// Имена каналов Coinbase Exchange.
const (
	ChannelLevel2    = "level2"
	ChannelTicker    = "ticker"
	ChannelMatches   = "matches"
	ChannelHeartbeat = "heartbeat"
	ChannelStatus    = "status"
	ChannelFull      = "full"

	ChannelLevel2Batch = "level2_batch"
	ChannelLevel2Top50 = "level2_50"
	ChannelTickerBatch = "ticker_batch"
)

// sourceChannels: канал кадра → каналы подписки, которые его порождают.
// Кадры snapshot/l2update приходят и по level2_batch, match - и по full.
var sourceChannels = map[string][]string{
	ChannelLevel2:  {ChannelLevel2, ChannelLevel2Batch, ChannelLevel2Top50},
	ChannelTicker:  {ChannelTicker, ChannelTickerBatch},
	ChannelMatches: {ChannelMatches, ChannelFull},
}

// frameChannel возвращает канал, под которым приходят кадры подписки.
func frameChannel(subChannel string) string {
	switch subChannel {
	case ChannelLevel2Batch, ChannelLevel2Top50:
		return ChannelLevel2
	case ChannelTickerBatch:
		return ChannelTicker
	default:
		return subChannel
	}
}

// Subscription - пара (канал, продукт). Ключ для реестра и курсоров.
type Subscription struct {
	Channel   string `json:"channel" mapstructure:"channel"`
	ProductID string `json:"product_id" mapstructure:"product_id"`
}

func (s Subscription) String() string { return s.Channel + "/" + s.ProductID }

// Kind - типизированный вариант поля "type" входящего кадра.
type Kind int

const (
	KindUnknown Kind = iota
	KindSubscriptions
	KindSnapshot
	KindL2Update
	KindTicker
	KindMatch
	KindHeartbeat
	KindStatus
	KindFull
	KindError
)

var kindNames = map[Kind]string{
	KindUnknown:       "unknown",
	KindSubscriptions: "subscriptions",
	KindSnapshot:      "snapshot",
	KindL2Update:      "l2update",
	KindTicker:        "ticker",
	KindMatch:         "match",
	KindHeartbeat:     "heartbeat",
	KindStatus:        "status",
	KindFull:          "full",
	KindError:         "error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Message - декодированный кадр. После Decode не изменяется.
type Message struct {
	Type       string          `json:"type"`
	Kind       Kind            `json:"kind"`
	Channel    string          `json:"channel,omitempty"`
	ProductID  string          `json:"product_id,omitempty"`
	Sequence   int64           `json:"sequence,omitempty"`
	Sequenced  bool            `json:"sequenced"`
	Time       time.Time       `json:"time,omitempty"`
	ReceivedAt time.Time       `json:"received_at"` // локальное время получения
	Payload    json.RawMessage `json:"payload"`
}

// Key возвращает ключ курсора последовательности.
func (m Message) Key() Subscription {
	return Subscription{Channel: m.Channel, ProductID: m.ProductID}
}

// State - состояние соединения.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateDegraded:
		return "degraded"
	default:
		return "invalid"
	}
}
