package telegram

import (
	"fmt"
	"strconv"
	"strings"
)

// CommandArgs представляет распарсенные аргументы команды
type CommandArgs struct {
	Command    string
	OfferingID string
	RequestID  string
	Reason     string
	Count      int
	Raw        []string
}

// CommandType представляет тип команды
type CommandType string

const (
	CmdHelp    CommandType = "help"
	CmdReserve CommandType = "reserve"
	CmdPending CommandType = "pending"
	CmdRequest CommandType = "request"
	CmdIntake  CommandType = "intake"

	// Admin commands
	CmdPause  CommandType = "pause"
	CmdResume CommandType = "resume"
)

const defaultPendingCount = 10

// ParseCommand парсит команду и аргументы
func ParseCommand(text string) (*CommandArgs, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil, fmt.Errorf("not a command")
	}

	parts := strings.Fields(text)
	if len(parts) == 0 || parts[0] == "/" {
		return nil, fmt.Errorf("empty command")
	}

	cmd := strings.TrimPrefix(parts[0], "/")
	// /reserve@liquidity_bot в групповых чатах
	if at := strings.Index(cmd, "@"); at >= 0 {
		cmd = cmd[:at]
	}

	args := &CommandArgs{
		Command: normalizeCommand(cmd),
		Raw:     parts[1:],
	}

	switch CommandType(args.Command) {
	case CmdHelp, "start", CmdIntake, CmdResume:
		return args, nil

	case CmdReserve:
		// /reserve OFFERING
		if len(args.Raw) < 1 {
			return nil, fmt.Errorf("usage: /reserve OFFERING")
		}
		args.OfferingID = args.Raw[0]
		return args, nil

	case CmdRequest:
		// /request ID
		if len(args.Raw) < 1 {
			return nil, fmt.Errorf("usage: /request ID")
		}
		args.RequestID = args.Raw[0]
		return args, nil

	case CmdPending:
		// /pending [OFFERING] [N]
		args.Count = defaultPendingCount
		for _, raw := range args.Raw {
			if n, err := strconv.Atoi(raw); err == nil {
				if n <= 0 || n > 100 {
					return nil, fmt.Errorf("count must be between 1 and 100")
				}
				args.Count = n
				continue
			}
			args.OfferingID = raw
		}
		return args, nil

	case CmdPause:
		// /pause [REASON...]
		args.Reason = strings.Join(args.Raw, " ")
		return args, nil
	}

	return args, nil
}

// normalizeCommand нормализует команду (поддержка русского языка)
func normalizeCommand(cmd string) string {
	cmd = strings.ToLower(strings.TrimSpace(cmd))

	ruToEn := map[string]string{
		"помощь":      "help",
		"резерв":      "reserve",
		"заявки":      "pending",
		"заявка":      "request",
		"прием":       "intake",
		"пауза":       "pause",
		"возобновить": "resume",
	}

	if enCmd, ok := ruToEn[cmd]; ok {
		return enCmd
	}
	return cmd
}
