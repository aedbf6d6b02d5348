// services/feed/pkg/feed/codec.go
package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

const (
	reqTypeSubscribe   = "subscribe"
	reqTypeUnsubscribe = "unsubscribe"
)

// ErrNoSubscriptions возвращается при попытке закодировать пустой набор.
var ErrNoSubscriptions = errors.New("feed: no subscriptions")

// DecodeError описывает кадр, который не удалось разобрать.
type DecodeError struct {
	Reason string
	Raw    []byte
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("feed: decode: %s: %v", e.Reason, e.Err)
	}
	return "feed: decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// typeInfo связывает тип кадра с его Kind и каналом.
type typeInfo struct {
	kind    Kind
	channel string
	// needsProduct: кадр данных, обязан нести product_id.
	needsProduct bool
}

var frameTypes = map[string]typeInfo{
	"subscriptions": {KindSubscriptions, "", false},
	"snapshot":      {KindSnapshot, ChannelLevel2, true},
	"l2update":      {KindL2Update, ChannelLevel2, true},
	"ticker":        {KindTicker, ChannelTicker, true},
	"match":         {KindMatch, ChannelMatches, true},
	"last_match":    {KindMatch, ChannelMatches, true},
	"heartbeat":     {KindHeartbeat, ChannelHeartbeat, true},
	"status":        {KindStatus, ChannelStatus, false},
	"received":      {KindFull, ChannelFull, true},
	"open":          {KindFull, ChannelFull, true},
	"done":          {KindFull, ChannelFull, true},
	"change":        {KindFull, ChannelFull, true},
	"activate":      {KindFull, ChannelFull, true},
	"error":         {KindError, "", false},
}

type envelope struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel"`
	ProductID string          `json:"product_id"`
	Sequence  json.RawMessage `json:"sequence"`
	Time      string          `json:"time"`
}

// Decode разбирает входящий текстовый кадр. Неизвестные типы
// возвращаются как KindUnknown без ошибки.
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, &DecodeError{Reason: "malformed json", Raw: raw, Err: err}
	}
	if env.Type == "" {
		return Message{}, &DecodeError{Reason: "missing type", Raw: raw}
	}

	info, known := frameTypes[env.Type]
	if known && info.needsProduct && env.ProductID == "" {
		return Message{}, &DecodeError{Reason: fmt.Sprintf("%s without product_id", env.Type), Raw: raw}
	}

	msg := Message{
		Type:      env.Type,
		Kind:      info.kind,
		Channel:   info.channel,
		ProductID: env.ProductID,
		Payload:   append(json.RawMessage(nil), raw...),
	}
	if env.Channel != "" {
		msg.Channel = env.Channel
	}

	if len(env.Sequence) > 0 && string(env.Sequence) != "null" {
		var seq int64
		if err := json.Unmarshal(env.Sequence, &seq); err != nil {
			return Message{}, &DecodeError{Reason: "invalid sequence", Raw: raw, Err: err}
		}
		msg.Sequence, msg.Sequenced = seq, true
	}

	if env.Time != "" {
		if ts, err := time.Parse(time.RFC3339Nano, env.Time); err == nil {
			msg.Time = ts
		}
	}
	return msg, nil
}

// channelSpec - объектная форма элемента "channels".
type channelSpec struct {
	Name       string   `json:"name"`
	ProductIDs []string `json:"product_ids"`
}

type request struct {
	Type       string        `json:"type"`
	ProductIDs []string      `json:"product_ids,omitempty"`
	Channels   []interface{} `json:"channels"`
}

// EncodeSubscribe строит subscribe-кадр для набора подписок.
func EncodeSubscribe(subs []Subscription) ([]byte, error) {
	return encodeRequest(reqTypeSubscribe, subs)
}

// EncodeUnsubscribe строит unsubscribe-кадр для набора подписок.
func EncodeUnsubscribe(subs []Subscription) ([]byte, error) {
	return encodeRequest(reqTypeUnsubscribe, subs)
}

// encodeRequest использует плоскую форму, если набор является полным
// декартовым произведением каналов и продуктов, иначе объектную.
func encodeRequest(typ string, subs []Subscription) ([]byte, error) {
	if len(subs) == 0 {
		return nil, ErrNoSubscriptions
	}

	byChannel := make(map[string]map[string]struct{})
	products := make(map[string]struct{})
	pairs := make(map[Subscription]struct{}, len(subs))
	for _, s := range subs {
		if s.Channel == "" || s.ProductID == "" {
			return nil, fmt.Errorf("feed: invalid subscription %q", s.String())
		}
		pairs[s] = struct{}{}
		products[s.ProductID] = struct{}{}
		if byChannel[s.Channel] == nil {
			byChannel[s.Channel] = make(map[string]struct{})
		}
		byChannel[s.Channel][s.ProductID] = struct{}{}
	}

	channels := sortedKeys(byChannel)
	req := request{Type: typ}

	if len(pairs) == len(channels)*len(products) {
		req.ProductIDs = sortedSet(products)
		for _, ch := range channels {
			req.Channels = append(req.Channels, ch)
		}
	} else {
		for _, ch := range channels {
			req.Channels = append(req.Channels, channelSpec{Name: ch, ProductIDs: sortedSet(byChannel[ch])})
		}
	}
	return json.Marshal(req)
}

func sortedKeys(m map[string]map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// exchangeErrorReason достаёт текст из error-кадра биржи.
func exchangeErrorReason(payload []byte) string {
	var e struct {
		Message string `json:"message"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal(payload, &e); err != nil {
		return ""
	}
	switch {
	case e.Message != "" && e.Reason != "":
		return e.Message + ": " + e.Reason
	case e.Reason != "":
		return e.Reason
	default:
		return e.Message
	}
}
