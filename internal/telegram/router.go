package telegram

import (
	"context"
	"errors"
	"time"

	"github.com/kirillm/liquidity/internal/domain"
	"github.com/kirillm/liquidity/internal/ledger"
)

// ReserveReader читает состояние резервов
type ReserveReader interface {
	QueryHealth(ctx context.Context, offeringID string) (*ledger.Health, error)
}

// RequestReader читает заявки на выкуп
type RequestReader interface {
	Get(ctx context.Context, id string) (*domain.RedemptionRequest, error)
	List(ctx context.Context, filter domain.RedemptionFilter) ([]domain.RedemptionRequest, error)
}

// IntakeControl управляет приемом новых заявок
type IntakeControl interface {
	Pause(ctx context.Context, reason string) error
	Resume(ctx context.Context) error
	Status() (paused bool, reason string, since time.Time)
}

// OfferingNames возвращает название объекта оферты
type OfferingNames interface {
	PropertyName(offeringID string) string
}

// CommandHandler представляет обработчик команды
type CommandHandler func(ctx context.Context, userID int64, args *CommandArgs) (string, error)

// Router маршрутизирует команды операторского чата к обработчикам
type Router struct {
	handlers      map[string]CommandHandler
	adminCommands map[string]bool
	authManager   *AuthManager
	formatter     *Formatter
}

// RouterDeps зависимости команд
type RouterDeps struct {
	Reserves  ReserveReader
	Requests  RequestReader
	Intake    IntakeControl
	Offerings OfferingNames
}

// NewRouter создает роутер со стандартным набором команд
func NewRouter(authManager *AuthManager, formatter *Formatter, deps RouterDeps) *Router {
	r := &Router{
		handlers:      make(map[string]CommandHandler),
		adminCommands: make(map[string]bool),
		authManager:   authManager,
		formatter:     formatter,
	}

	help := func(context.Context, int64, *CommandArgs) (string, error) {
		return formatter.T("help"), nil
	}
	r.RegisterHandler(string(CmdHelp), help)
	r.RegisterHandler("start", help)

	r.RegisterHandler(string(CmdReserve), func(ctx context.Context, _ int64, args *CommandArgs) (string, error) {
		h, err := deps.Reserves.QueryHealth(ctx, args.OfferingID)
		if err != nil {
			return "", err
		}
		name := args.OfferingID
		if deps.Offerings != nil {
			if pn := deps.Offerings.PropertyName(args.OfferingID); pn != "" {
				name = pn + " (" + args.OfferingID + ")"
			}
		}
		return formatter.FormatHealth(name, h), nil
	})

	r.RegisterHandler(string(CmdPending), func(ctx context.Context, _ int64, args *CommandArgs) (string, error) {
		reqs, err := deps.Requests.List(ctx, domain.RedemptionFilter{
			OfferingID: args.OfferingID,
			Status:     domain.StatusSubmitted,
			Limit:      args.Count,
		})
		if err != nil {
			return "", err
		}
		return formatter.FormatPending(reqs), nil
	})

	r.RegisterHandler(string(CmdRequest), func(ctx context.Context, _ int64, args *CommandArgs) (string, error) {
		req, err := deps.Requests.Get(ctx, args.RequestID)
		if err != nil {
			return "", err
		}
		return formatter.FormatRequest(req), nil
	})

	r.RegisterHandler(string(CmdIntake), func(context.Context, int64, *CommandArgs) (string, error) {
		return formatter.FormatIntake(deps.Intake.Status()), nil
	})

	r.RegisterAdminHandler(string(CmdPause), func(ctx context.Context, _ int64, args *CommandArgs) (string, error) {
		reason := args.Reason
		if reason == "" {
			reason = "paused from telegram"
		}
		if err := deps.Intake.Pause(ctx, reason); err != nil {
			return "", err
		}
		return formatter.FormatIntake(deps.Intake.Status()), nil
	})

	r.RegisterAdminHandler(string(CmdResume), func(ctx context.Context, _ int64, _ *CommandArgs) (string, error) {
		if err := deps.Intake.Resume(ctx); err != nil {
			return "", err
		}
		return formatter.FormatIntake(deps.Intake.Status()), nil
	})

	return r
}

// RegisterHandler регистрирует обработчик команды
func (r *Router) RegisterHandler(command string, handler CommandHandler) {
	r.handlers[command] = handler
}

// RegisterAdminHandler регистрирует обработчик с требованием админских прав
func (r *Router) RegisterAdminHandler(command string, handler CommandHandler) {
	r.adminCommands[command] = true
	r.handlers[command] = handler
}

// IsAdminCommand проверяет, является ли команда админской
func (r *Router) IsAdminCommand(command string) bool {
	return r.adminCommands[command]
}

// HandleCommand обрабатывает команду и возвращает ответ для чата
func (r *Router) HandleCommand(ctx context.Context, userID int64, text string) (string, error) {
	if err := r.authManager.CheckRateLimit(userID); err != nil {
		return r.formatter.FormatError(err), nil
	}

	args, err := ParseCommand(text)
	if err != nil {
		return r.formatter.FormatError(err), nil
	}

	if r.adminCommands[args.Command] {
		if err := r.authManager.RequireAdmin(userID); err != nil {
			return r.formatter.T("admin_required"), nil
		}
	}

	handler, exists := r.handlers[args.Command]
	if !exists {
		return r.formatter.T("unknown_command"), nil
	}

	response, err := handler(ctx, userID, args)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return r.formatter.T("not_found"), nil
		}
		return r.formatter.FormatError(err), err
	}

	return response, nil
}
