package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/kirillm/liquidity/internal/domain"
	"github.com/kirillm/liquidity/internal/ledger"
	"github.com/shopspring/decimal"
)

// Lang представляет язык
type Lang string

const (
	LangEN Lang = "en"
	LangRU Lang = "ru"
)

// ParseLang разбирает язык из конфигурации, по умолчанию английский
func ParseLang(s string) Lang {
	if Lang(strings.ToLower(strings.TrimSpace(s))) == LangRU {
		return LangRU
	}
	return LangEN
}

// Formatter форматирует сообщения для операторского чата
type Formatter struct {
	lang Lang
}

// NewFormatter создает новый форматтер
func NewFormatter(lang Lang) *Formatter {
	if lang != LangRU && lang != LangEN {
		lang = LangEN
	}
	return &Formatter{lang: lang}
}

// GetLang возвращает текущий язык
func (f *Formatter) GetLang() Lang {
	return f.lang
}

var translations = map[string]map[Lang]string{
	"new_request":      {LangEN: "New redemption request", LangRU: "Новая заявка на выкуп"},
	"reserve_low":      {LangEN: "Liquidity reserve is low", LangRU: "Резерв ликвидности на исходе"},
	"offering":         {LangEN: "Offering", LangRU: "Оферта"},
	"investor":         {LangEN: "Investor", LangRU: "Инвестор"},
	"quantity":         {LangEN: "Quantity", LangRU: "Количество"},
	"gross_value":      {LangEN: "Gross value", LangRU: "Стоимость"},
	"fee":              {LangEN: "Fee", LangRU: "Комиссия"},
	"net_payout":       {LangEN: "Net payout", LangRU: "К выплате"},
	"reserve_balance":  {LangEN: "Reserve balance", LangRU: "Баланс резерва"},
	"reserve_target":   {LangEN: "Reserve target", LangRU: "Целевой резерв"},
	"pending_requests": {LangEN: "Pending requests", LangRU: "Заявок в работе"},
	"top_up":           {LangEN: "Please top up the reserve.", LangRU: "Пополните резерв."},
	"event":            {LangEN: "Event", LangRU: "Событие"},
	"status":           {LangEN: "Status", LangRU: "Статус"},
	"request":          {LangEN: "Request", LangRU: "Заявка"},
	"error":            {LangEN: "Error", LangRU: "Ошибка"},
	"access_denied":    {LangEN: "Access denied", LangRU: "Доступ запрещен"},
	"admin_required":   {LangEN: "Admin permission required", LangRU: "Требуются права администратора"},
	"unknown_command":  {LangEN: "Unknown command, see /help", LangRU: "Неизвестная команда, см. /help"},
	"not_found":        {LangEN: "Not found", LangRU: "Не найдено"},
	"reserve_health":   {LangEN: "Reserve health", LangRU: "Состояние резерва"},
	"reserved":         {LangEN: "Reserved for pending", LangRU: "Зарезервировано"},
	"headroom":         {LangEN: "Headroom", LangRU: "Свободно"},
	"awaiting_review":  {LangEN: "Awaiting review", LangRU: "Ожидают решения"},
	"no_requests":      {LangEN: "No requests awaiting review", LangRU: "Нет заявок на рассмотрении"},
	"intake_open":      {LangEN: "Redemption intake is open", LangRU: "Прием заявок открыт"},
	"intake_paused":    {LangEN: "Redemption intake is paused", LangRU: "Прием заявок приостановлен"},
	"reason":           {LangEN: "Reason", LangRU: "Причина"},
	"since":            {LangEN: "Since", LangRU: "С"},
	"help": {
		LangEN: "Commands:\n/reserve OFFERING - reserve health\n/pending [OFFERING] [N] - requests awaiting review\n/request ID - request details\n/intake - intake status\n/pause [REASON] - pause intake (admin)\n/resume - resume intake (admin)",
		LangRU: "Команды:\n/reserve ОФЕРТА - состояние резерва\n/pending [ОФЕРТА] [N] - заявки на рассмотрении\n/request ID - детали заявки\n/intake - статус приема\n/pause [ПРИЧИНА] - остановить прием (админ)\n/resume - возобновить прием (админ)",
	},
}

// T переводит строку
func (f *Formatter) T(key string) string {
	if trans, ok := translations[key]; ok {
		if val, ok := trans[f.lang]; ok {
			return val
		}
	}
	return key
}

func money(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return "$" + d.StringFixed(2)
}

func offering(d domain.EventData) string {
	if d.PropertyName != "" {
		return fmt.Sprintf("%s (%s)", d.PropertyName, d.OfferingID)
	}
	return d.OfferingID
}

// FormatEvent форматирует событие для чата
func (f *Formatter) FormatEvent(event domain.NotificationEvent) string {
	switch event.Type {
	case domain.EventAdminNewRequest:
		return f.FormatNewRequest(event.Data)
	case domain.EventReserveLowWarning:
		return f.FormatReserveWarning(event.Data)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("event"), event.Type))
	if event.Data.RequestNumber != "" {
		sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("request"), event.Data.RequestNumber))
	}
	if event.Data.Status != "" {
		sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("status"), event.Data.Status))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatNewRequest форматирует уведомление о новой заявке
func (f *Formatter) FormatNewRequest(d domain.EventData) string {
	var sb strings.Builder

	sb.WriteString("🆕 ")
	sb.WriteString(f.T("new_request"))
	sb.WriteString(" ")
	sb.WriteString(d.RequestNumber)
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("offering"), offering(d)))
	sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("investor"), d.InvestorID))
	if d.Quantity != nil {
		sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("quantity"), d.Quantity.String()))
	}
	sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("gross_value"), money(d.GrossValue)))
	sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("fee"), money(d.FeeAmount)))
	sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("net_payout"), money(d.NetPayout)))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("%s: %s / %s\n", f.T("reserve_balance"), money(d.ReserveBalance), money(d.ReserveTarget)))
	if d.PendingRequestsCount != nil {
		sb.WriteString(fmt.Sprintf("%s: %d\n", f.T("pending_requests"), *d.PendingRequestsCount))
	}

	return strings.TrimRight(sb.String(), "\n")
}

// FormatReserveWarning форматирует предупреждение о низком резерве
func (f *Formatter) FormatReserveWarning(d domain.EventData) string {
	var sb strings.Builder

	sb.WriteString("⚠️ ")
	sb.WriteString(f.T("reserve_low"))
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("offering"), offering(d)))
	sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("reserve_balance"), money(d.ReserveBalance)))
	sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("reserve_target"), money(d.ReserveTarget)))
	if d.ReserveBalance != nil && d.ReserveTarget != nil && d.ReserveTarget.IsPositive() {
		pct := d.ReserveBalance.Div(*d.ReserveTarget).Mul(decimal.NewFromInt(100))
		sb.WriteString(fmt.Sprintf("%s%%\n", pct.StringFixed(1)))
	}
	if d.PendingRequestsCount != nil {
		sb.WriteString(fmt.Sprintf("%s: %d\n", f.T("pending_requests"), *d.PendingRequestsCount))
	}
	sb.WriteString("\n")
	sb.WriteString(f.T("top_up"))

	return sb.String()
}

// FormatError форматирует ошибку команды
func (f *Formatter) FormatError(err error) string {
	return fmt.Sprintf("❌ %s: %v", f.T("error"), err)
}

// FormatHealth форматирует состояние резерва оферты
func (f *Formatter) FormatHealth(name string, h *ledger.Health) string {
	var sb strings.Builder

	icon := "🟢"
	if h.LowBalance {
		icon = "⚠️"
	}
	sb.WriteString(fmt.Sprintf("%s %s: %s\n\n", icon, f.T("reserve_health"), name))
	sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("reserve_balance"), money(&h.Balance)))
	sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("reserve_target"), money(&h.Target)))
	sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("reserved"), money(&h.PendingReserved)))
	sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("headroom"), money(&h.Headroom)))
	sb.WriteString(fmt.Sprintf("%s%%", h.Ratio.Mul(decimal.NewFromInt(100)).StringFixed(1)))

	return sb.String()
}

// FormatRequest форматирует карточку заявки
func (f *Formatter) FormatRequest(req *domain.RedemptionRequest) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s %s\n\n", f.T("request"), req.RequestNumber))
	sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("status"), req.Status))
	if req.PropertyName != "" {
		sb.WriteString(fmt.Sprintf("%s: %s (%s)\n", f.T("offering"), req.PropertyName, req.OfferingID))
	} else {
		sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("offering"), req.OfferingID))
	}
	sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("investor"), req.InvestorID))
	sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("quantity"), req.Quantity.String()))
	sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("gross_value"), money(&req.GrossValue)))
	sb.WriteString(fmt.Sprintf("%s: %s (%s%%)\n", f.T("fee"), money(&req.FeeAmount), req.FeePercent.String()))
	sb.WriteString(fmt.Sprintf("%s: %s", f.T("net_payout"), money(&req.NetPayout)))
	if req.DenialReason != "" {
		sb.WriteString(fmt.Sprintf("\n%s: %s", f.T("reason"), req.DenialReason))
	}

	return sb.String()
}

// FormatPending форматирует список заявок на рассмотрении
func (f *Formatter) FormatPending(reqs []domain.RedemptionRequest) string {
	if len(reqs) == 0 {
		return f.T("no_requests")
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📋 %s (%d)\n\n", f.T("awaiting_review"), len(reqs)))
	for _, r := range reqs {
		sb.WriteString(fmt.Sprintf("%s  %s  %s  %s\n", r.RequestNumber, r.OfferingID, money(&r.NetPayout), r.CreatedAt.UTC().Format("2006-01-02 15:04")))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatIntake форматирует статус приема заявок
func (f *Formatter) FormatIntake(paused bool, reason string, since time.Time) string {
	if !paused {
		return "✅ " + f.T("intake_open")
	}

	var sb strings.Builder
	sb.WriteString("⏸ " + f.T("intake_paused"))
	if reason != "" {
		sb.WriteString(fmt.Sprintf("\n%s: %s", f.T("reason"), reason))
	}
	if !since.IsZero() {
		sb.WriteString(fmt.Sprintf("\n%s: %s", f.T("since"), since.UTC().Format(time.RFC3339)))
	}
	return sb.String()
}

// splitMessage разбивает длинное сообщение на части
func splitMessage(text string, maxLength int) []string {
	if len(text) <= maxLength {
		return []string{text}
	}

	var messages []string
	lines := strings.Split(text, "\n")
	currentMessage := ""

	for _, line := range lines {
		for len(line) > maxLength {
			if currentMessage != "" {
				messages = append(messages, currentMessage)
				currentMessage = ""
			}
			messages = append(messages, line[:maxLength])
			line = line[maxLength:]
		}
		if len(currentMessage)+len(line)+1 > maxLength {
			messages = append(messages, currentMessage)
			currentMessage = line
		} else {
			if currentMessage != "" {
				currentMessage += "\n"
			}
			currentMessage += line
		}
	}

	if currentMessage != "" {
		messages = append(messages, currentMessage)
	}

	return messages
}
