package ledger

import (
	"errors"
	"strconv"
)

// Header 是成交流水的列定义。
var Header = []string{"ts_us", "client_id", "venue_id", "symbol", "side", "qty", "price", "position_after"}

// Record 是一笔已实现成交。
type Record struct {
	TsMicros      int64   `json:"ts_us"`
	ClientID      int64   `json:"client_id"`
	VenueID       int64   `json:"venue_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Qty           int64   `json:"qty"`
	Price         float64 `json:"price"`
	PositionAfter int64   `json:"position_after"`
}

// Fields 按 Header 的顺序输出。
func (r Record) Fields() []string {
	return []string{
		strconv.FormatInt(r.TsMicros, 10),
		strconv.FormatInt(r.ClientID, 10),
		strconv.FormatInt(r.VenueID, 10),
		r.Symbol,
		r.Side,
		strconv.FormatInt(r.Qty, 10),
		strconv.FormatFloat(r.Price, 'f', -1, 64),
		strconv.FormatInt(r.PositionAfter, 10),
	}
}

// Sink 是只追加的成交记录目标，每次 Append 后数据应对外可见。
type Sink interface {
	Append(r Record) error
	Close() error
}

// Multi 依次写入多个 Sink，返回合并后的错误。
type Multi []Sink

func (m Multi) Append(r Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open 按配置组装：csvPath 必填，sqlitePath 为空时不启用 SQLite。
func Open(csvPath, sqlitePath string) (Sink, error) {
	c, err := OpenCSV(csvPath)
	if err != nil {
		return nil, err
	}
	if sqlitePath == "" {
		return c, nil
	}
	s, err := OpenSQLite(sqlitePath)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return Multi{c, s}, nil
}
