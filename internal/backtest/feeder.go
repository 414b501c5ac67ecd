package backtest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// 小于该值的时间戳按秒处理。
const secondsCutoff = 100_000_000_000

func normalizeMillis(ts int64) int64 {
	if ts > 0 && ts < secondsCutoff {
		return ts * 1000
	}
	return ts
}

// LoadCandlesFile 按扩展名读取 .csv 或 Binance klines .json 文件。
func LoadCandlesFile(path string, tf Timeframe) ([]Candle, error) {
	// #nosec G304 -- file path is operator provided via CLI flags.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open candle file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSV(bytes.NewReader(data), tf)
	case ".json":
		return ParseKlinesJSON(data, tf)
	default:
		return nil, fmt.Errorf("不支持的文件类型: %s", path)
	}
}

var csvAliases = map[string]string{
	"open_time":  "open_time",
	"time":       "open_time",
	"timestamp":  "open_time",
	"date":       "open_time",
	"open":       "open",
	"high":       "high",
	"low":        "low",
	"close":      "close",
	"volume":     "volume",
	"close_time": "close_time",
	"trades":     "trades",
}

// ReadCSV 读取带表头的 K 线 CSV；必须有 time/open/high/low/close，
// close_time 缺省时按周期推算。
func ReadCSV(r io.Reader, tf Timeframe) ([]Candle, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		if key, ok := csvAliases[strings.ToLower(strings.TrimSpace(h))]; ok {
			cols[key] = i
		}
	}
	for _, need := range []string{"open_time", "open", "high", "low", "close"} {
		if _, ok := cols[need]; !ok {
			return nil, fmt.Errorf("csv 缺少列 %s", need)
		}
	}
	var out []Candle
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv record: %w", err)
		}
		c, err := candleFromRecord(record, cols, tf)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func candleFromRecord(record []string, cols map[string]int, tf Timeframe) (Candle, error) {
	field := func(key string) (string, bool) {
		i, ok := cols[key]
		if !ok || i >= len(record) {
			return "", false
		}
		return strings.TrimSpace(record[i]), true
	}
	num := func(key string) (float64, error) {
		v, ok := field(key)
		if !ok || v == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return f, nil
	}
	var c Candle
	raw, _ := field("open_time")
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return c, fmt.Errorf("parse timestamp: %w", err)
	}
	c.OpenTime = normalizeMillis(ts)
	for key, dst := range map[string]*float64{"open": &c.Open, "high": &c.High, "low": &c.Low, "close": &c.Close, "volume": &c.Volume} {
		if *dst, err = num(key); err != nil {
			return c, err
		}
	}
	if v, ok := field("close_time"); ok && v != "" {
		ct, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return c, fmt.Errorf("parse close_time: %w", err)
		}
		c.CloseTime = normalizeMillis(ct)
	} else {
		c.CloseTime = tf.CloseTimeOf(c.OpenTime)
	}
	if v, ok := field("trades"); ok && v != "" {
		c.Trades, _ = strconv.ParseInt(v, 10, 64)
	}
	return c, nil
}

// ParseKlinesJSON 解析 Binance /klines 原始数组，或带同名字段的对象数组。
func ParseKlinesJSON(data []byte, tf Timeframe) ([]Candle, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("json 格式错误")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		if inner := root.Get("data"); inner.IsArray() {
			root = inner
		} else {
			return nil, fmt.Errorf("json 顶层需要数组")
		}
	}
	var (
		out    []Candle
		parseE error
	)
	root.ForEach(func(idx, row gjson.Result) bool {
		var c Candle
		switch {
		case row.IsArray():
			cells := row.Array()
			if len(cells) < 6 {
				parseE = fmt.Errorf("row %d: 字段不足", idx.Int())
				return false
			}
			c = Candle{
				OpenTime: normalizeMillis(cells[0].Int()),
				Open:     cells[1].Float(),
				High:     cells[2].Float(),
				Low:      cells[3].Float(),
				Close:    cells[4].Float(),
				Volume:   cells[5].Float(),
			}
			if len(cells) > 6 {
				c.CloseTime = normalizeMillis(cells[6].Int())
			}
			if len(cells) > 8 {
				c.Trades = cells[8].Int()
			}
		case row.IsObject():
			c = Candle{
				OpenTime:  normalizeMillis(firstOf(row, "open_time", "openTime", "time", "t").Int()),
				CloseTime: normalizeMillis(firstOf(row, "close_time", "closeTime", "T").Int()),
				Open:      firstOf(row, "open", "o").Float(),
				High:      firstOf(row, "high", "h").Float(),
				Low:       firstOf(row, "low", "l").Float(),
				Close:     firstOf(row, "close", "c").Float(),
				Volume:    firstOf(row, "volume", "v").Float(),
				Trades:    firstOf(row, "trades", "n").Int(),
			}
		default:
			parseE = fmt.Errorf("row %d: 不支持的元素类型", idx.Int())
			return false
		}
		if c.CloseTime == 0 {
			c.CloseTime = tf.CloseTimeOf(c.OpenTime)
		}
		out = append(out, c)
		return true
	})
	if parseE != nil {
		return nil, parseE
	}
	return out, nil
}

func firstOf(obj gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := obj.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}
