package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Journal 决策流水账：信号裁决与订单提交逐条落库，
// 供事后复盘与 /journal API 查询。
type Journal struct {
	conn *sql.DB
}

// Open 打开（必要时建库建表）
func Open(path string) (*Journal, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	j := &Journal{conn: conn}
	if err := j.initSchema(); err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Msg("决策流水库就绪")
	return j, nil
}

func (j *Journal) initSchema() error {
	_, err := j.conn.Exec(`
		CREATE TABLE IF NOT EXISTS signals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER,
			channel TEXT,
			message_id INTEGER,
			symbol TEXT,
			reason TEXT,
			accepted INTEGER
		);
	`)
	if err != nil {
		return fmt.Errorf("create signals table: %w", err)
	}

	_, err = j.conn.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER,
			symbol TEXT,
			purpose TEXT,
			client_order_id TEXT,
			reason TEXT,
			ok INTEGER
		);
	`)
	if err != nil {
		return fmt.Errorf("create orders table: %w", err)
	}
	return nil
}

// RecordSignal 记一条信号裁决
func (j *Journal) RecordSignal(channel string, messageID int64, symbol, reason string, accepted bool) error {
	_, err := j.conn.Exec(`
		INSERT INTO signals (timestamp, channel, message_id, symbol, reason, accepted)
		VALUES (?, ?, ?, ?, ?, ?)
	`, time.Now().Unix(), channel, messageID, symbol, reason, boolInt(accepted))
	return err
}

// RecordOrder 记一条订单提交结果
func (j *Journal) RecordOrder(symbol, purpose, clientOrderID, reason string, ok bool) error {
	_, err := j.conn.Exec(`
		INSERT INTO orders (timestamp, symbol, purpose, client_order_id, reason, ok)
		VALUES (?, ?, ?, ?, ?, ?)
	`, time.Now().Unix(), symbol, purpose, clientOrderID, reason, boolInt(ok))
	return err
}

// SignalRecord 信号流水行
type SignalRecord struct {
	ID        int64  `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Channel   string `json:"channel"`
	MessageID int64  `json:"message_id"`
	Symbol    string `json:"symbol"`
	Reason    string `json:"reason"`
	Accepted  bool   `json:"accepted"`
}

// RecentSignals 最近的信号裁决，按时间倒序
func (j *Journal) RecentSignals(limit int) ([]SignalRecord, error) {
	rows, err := j.conn.Query(`
		SELECT id, timestamp, channel, message_id, symbol, reason, accepted
		FROM signals
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SignalRecord
	for rows.Next() {
		var rec SignalRecord
		var accepted int
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Channel, &rec.MessageID,
			&rec.Symbol, &rec.Reason, &accepted); err != nil {
			return nil, err
		}
		rec.Accepted = accepted != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// OrderRecord 订单流水行
type OrderRecord struct {
	ID            int64  `json:"id"`
	Timestamp     int64  `json:"timestamp"`
	Symbol        string `json:"symbol"`
	Purpose       string `json:"purpose"`
	ClientOrderID string `json:"client_order_id"`
	Reason        string `json:"reason"`
	OK            bool   `json:"ok"`
}

// RecentOrders 最近的订单提交，按时间倒序
func (j *Journal) RecentOrders(limit int) ([]OrderRecord, error) {
	rows, err := j.conn.Query(`
		SELECT id, timestamp, symbol, purpose, client_order_id, reason, ok
		FROM orders
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var rec OrderRecord
		var ok int
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Symbol, &rec.Purpose,
			&rec.ClientOrderID, &rec.Reason, &ok); err != nil {
			return nil, err
		}
		rec.OK = ok != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close 关闭底层连接
func (j *Journal) Close() error {
	return j.conn.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
