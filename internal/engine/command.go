package engine

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"oms-roundtrip-go/order"
)

// ErrInvalidCommand 所有操作台命令校验失败都包装此错误。
var ErrInvalidCommand = errors.New("invalid command")

// CommandKind 操作台命令类型
type CommandKind int

const (
	CommandNone CommandKind = iota // 空行
	CommandNew
	CommandCancel
	CommandStatus
	CommandExit
)

// Command 是校验通过的操作台命令。
type Command struct {
	Kind     CommandKind
	Side     order.Side
	Qty      int64
	Price    float64
	ClientID int64
}

// CommandError 携带直接展示给操作员的提示。
type CommandError struct {
	Msg string
}

func (e *CommandError) Error() string { return e.Msg }

func (e *CommandError) Unwrap() error { return ErrInvalidCommand }

func invalid(msg string) error { return &CommandError{Msg: msg} }

// ParseCommand 解析一行操作台输入：
//
//	BUY <qty> <price> | SELL <qty> <price> | CANCEL <client_id> | STATUS | exit | quit
//
// 命令区分大小写，多余的 token 视为错误。
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{Kind: CommandNone}, nil
	}
	if line == "exit" || line == "quit" {
		return Command{Kind: CommandExit}, nil
	}

	fields := strings.Fields(line)
	args := fields[1:]
	switch fields[0] {
	case "STATUS":
		if len(args) > 0 {
			return Command{}, invalid("invalid. STATUS takes no args")
		}
		return Command{Kind: CommandStatus}, nil

	case "BUY", "SELL":
		side, _ := order.ParseSide(fields[0])
		if len(args) < 2 {
			return Command{}, invalid("invalid. expected: BUY 10 101.25")
		}
		qty, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || qty <= 0 {
			return Command{}, invalid("invalid. expected: BUY 10 101.25")
		}
		price, err := strconv.ParseFloat(args[1], 64)
		if err != nil || !(price > 0) || math.IsInf(price, 0) {
			return Command{}, invalid("invalid. expected: BUY 10 101.25")
		}
		if len(args) > 2 {
			return Command{}, invalid("invalid. unexpected extra token: " + args[2])
		}
		return Command{Kind: CommandNew, Side: side, Qty: qty, Price: price}, nil

	case "CANCEL":
		if len(args) < 1 {
			return Command{}, invalid("invalid. expected: CANCEL 1001")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return Command{}, invalid("invalid. expected: CANCEL 1001")
		}
		if len(args) > 1 {
			return Command{}, invalid("invalid. unexpected extra token: " + args[1])
		}
		return Command{Kind: CommandCancel, ClientID: id}, nil
	}
	return Command{}, invalid("unknown command")
}
