package bot

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Alexbaranow/arkana-women-bot/internal/ai"
	"github.com/Alexbaranow/arkana-women-bot/internal/models"
	"github.com/Alexbaranow/arkana-women-bot/internal/products"
)

const greetingText = `Привет 💜

Я тут помогаю разбираться с тем, что обычно крутится в голове: отношения, деньги, здоровье, своё дело — куда двигаться и на что опереться.

Карты и расклады не дают готовых ответов, но помогают посмотреть на ситуацию по-другому. У тебя есть один бесплатный вопрос — обновляется раз в 3 дня. Если хочешь, можешь задать его прямо сейчас 👇`

const helpText = `Помощь ❓

Всё самое важное — в приложении. Нажми кнопку ниже, чтобы открыть его.

Там ты сможешь:
• Задать бесплатный вопрос картам (раз в 3 дня)
• Посмотреть расклады и цены
• Почитать отзывы и оставить свой

Если что-то не работает — напиши сюда, отвечу. 💜`

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	userID := message.From.ID

	switch message.Command() {
	case "start":
		needs, err := b.store.Users.NeedsOnboarding(ctx, userID)
		if err != nil {
			b.logger.Error("Failed to check onboarding state", "user_id", userID, "error", err)
		}
		if needs {
			b.StartOnboarding(chatID, userID)
			return
		}
		b.sendMainMenu(chatID)
	case "help":
		msg := tgbotapi.NewMessage(chatID, helpText)
		if kb := b.openAppKeyboard(); kb != nil {
			msg.ReplyMarkup = kb
		}
		b.send(msg)
	case "stats":
		if b.adminID == 0 || userID != b.adminID {
			b.send(tgbotapi.NewMessage(chatID, "Неизвестная команда. Используй /start для начала работы."))
			return
		}
		b.sendStats(ctx, chatID)
	default:
		b.send(tgbotapi.NewMessage(chatID, "Неизвестная команда. Используй /start для начала работы."))
	}
}

func (b *Bot) sendStats(ctx context.Context, chatID int64) {
	users, _ := b.store.Users.Count(ctx)
	orders, _ := b.store.Orders.Count(ctx)
	cards, _ := b.store.Cards.Count(ctx)
	text := fmt.Sprintf("📊 Статистика\n\nПользователей: %d\nЗаказов: %d\nКарт дня: %d", users, orders, cards)
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	userID := message.From.ID
	s := b.session(userID)

	switch s.Step {
	case StepAskName:
		b.handleAskName(ctx, message)
	case StepAskBirthDate:
		b.handleAskBirthDate(ctx, message)
	case StepFreeQuestion:
		b.handleFreeQuestionMessage(ctx, message)
	default:
		// Any other message: show the main menu.
		b.sendMainMenu(message.Chat.ID)
	}
}

// === Main menu ===

func (b *Bot) sendMainMenu(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, greetingText)
	if kb := b.mainMenuKeyboard(); kb != nil {
		msg.ReplyMarkup = kb
	}
	b.send(msg)
}

// webAppURLWithScreen appends the target screen as a query parameter; the
// hash fragment gets overwritten by Telegram's launch params.
func (b *Bot) webAppURLWithScreen(screen string) string {
	if b.webAppURL == "" {
		return ""
	}
	if screen == "" {
		return b.webAppURL
	}
	sep := "?"
	if strings.Contains(b.webAppURL, "?") {
		sep = "&"
	}
	return b.webAppURL + sep + "screen=" + url.QueryEscape(screen)
}

func (b *Bot) mainMenuKeyboard() *tgbotapi.InlineKeyboardMarkup {
	if b.webAppURL == "" {
		return nil
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonWebApp("🔮 Открыть приложение", tgbotapi.WebAppInfo{URL: b.webAppURL}),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonWebApp("Бесплатный вопрос таро ✨", tgbotapi.WebAppInfo{URL: b.webAppURLWithScreen("freeTarot")}),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonWebApp("Все расклады 📋", tgbotapi.WebAppInfo{URL: b.webAppURLWithScreen("all-spreads")}),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonWebApp("Карта дня на 3 дня (100 ₽) 🪙", tgbotapi.WebAppInfo{URL: b.webAppURLWithScreen("card-3days")}),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonWebApp("Матрица судьбы/натальная карта 🌌", tgbotapi.WebAppInfo{URL: b.webAppURLWithScreen("fate-matrix")}),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonWebApp("Мои расклады 📂", tgbotapi.WebAppInfo{URL: b.webAppURLWithScreen("my-readings")}),
		),
	)
	return &kb
}

func (b *Bot) openAppKeyboard() *tgbotapi.InlineKeyboardMarkup {
	if b.webAppURL == "" {
		return nil
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonWebApp("🔮 Открыть приложение", tgbotapi.WebAppInfo{URL: b.webAppURL}),
		),
	)
	return &kb
}

// === Onboarding ===

var birthDateRe = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{4})$`)

const birthDateFormatError = `Кажется, формат немного не тот 🙈

Напиши, пожалуйста, так: ДД.ММ.ГГГГ
Например: 23.07.1995`

// StartOnboarding begins the name/birth-date dialog.
func (b *Bot) StartOnboarding(chatID, userID int64) {
	b.session(userID).Step = StepAskName
	b.send(tgbotapi.NewMessage(chatID, "Давай познакомимся 🌻\n\nНапиши, как к тебе обращаться?"))
}

func (b *Bot) handleAskName(ctx context.Context, message *tgbotapi.Message) {
	name := strings.TrimSpace(message.Text)
	if utf8.RuneCountInString(name) < 2 {
		b.send(tgbotapi.NewMessage(message.Chat.ID, "Прости, напиши, пожалуйста, как тебя зовут? Хоть пару букв 🙂"))
		return
	}

	if err := b.store.Users.SetDisplayName(ctx, message.From.ID, name); err != nil {
		b.logger.Error("Failed to save display name", "user_id", message.From.ID, "error", err)
	}
	b.session(message.From.ID).Step = StepAskBirthDate

	b.send(tgbotapi.NewMessage(message.Chat.ID,
		fmt.Sprintf("Рада знакомству, %s 💫\n\nТеперь укажи свою дату рождения в формате ДД.ММ.ГГГГ\nПример: 05.11.1998", name)))
}

func (b *Bot) handleAskBirthDate(ctx context.Context, message *tgbotapi.Message) {
	input := strings.TrimSpace(message.Text)

	normalized, ok := normalizeBirthDate(input)
	if !ok {
		b.send(tgbotapi.NewMessage(message.Chat.ID, birthDateFormatError))
		return
	}

	if err := b.store.Users.SetBirthDate(ctx, message.From.ID, normalized); err != nil {
		b.logger.Error("Failed to save birth date", "user_id", message.From.ID, "error", err)
	}
	b.session(message.From.ID).Step = StepNone

	user, err := b.store.Users.Get(ctx, message.From.ID)
	displayName := "друг"
	if err == nil {
		if user.DisplayName != "" {
			displayName = user.DisplayName
		} else if user.FirstName != "" {
			displayName = user.FirstName
		}
	}

	b.send(tgbotapi.NewMessage(message.Chat.ID,
		fmt.Sprintf("Отлично, %s! Все данные сохранены ✨", displayName)))
	b.sendMainMenu(message.Chat.ID)
}

// normalizeBirthDate validates DD.MM.YYYY input (rejecting impossible
// dates like 31.02) and zero-pads the day and month.
func normalizeBirthDate(input string) (string, bool) {
	m := birthDateRe.FindStringSubmatch(input)
	if m == nil {
		return "", false
	}
	normalized := fmt.Sprintf("%02s.%02s.%s", m[1], m[2], m[3])
	parsed, err := time.Parse("02.01.2006", normalized)
	if err != nil {
		return "", false
	}
	if parsed.Format("02.01.2006") != normalized {
		return "", false
	}
	return normalized, true
}

// === Free question chat flow ===

func (b *Bot) handleFreeQuestionMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	userID := message.From.ID
	text := strings.TrimSpace(message.Text)

	if text == "" {
		b.send(tgbotapi.NewMessage(chatID, "Напиши, пожалуйста, свой вопрос текстом 👇"))
		return
	}
	if utf8.RuneCountInString(text) < 5 {
		b.send(tgbotapi.NewMessage(chatID, "Опиши вопрос чуть подробнее, хотя бы в несколько слов 🙏"))
		return
	}

	// Re-check: the window may have closed since the button was pressed.
	available, err := b.store.Users.HasFreeQuestion(ctx, userID)
	if err != nil || !available {
		b.session(userID).Step = StepNone
		b.send(tgbotapi.NewMessage(chatID, "⏳ Твой бесплатный вопрос уже использован. Следующий будет доступен через 3 дня."))
		return
	}

	loading, err := b.bot.Send(tgbotapi.NewMessage(chatID, "🔮 Думаю над твоим вопросом..."))
	if err != nil {
		b.logger.Error("Failed to send loading message", "error", err)
		return
	}

	answer, err := b.gen.Answer(ctx, text)
	b.session(userID).Step = StepNone
	if err != nil {
		b.logger.Error("AI free question error", "user_id", userID, "error", err)
		b.send(tgbotapi.NewEditMessageText(chatID, loading.MessageID,
			"😔 Что-то пошло не так при обращении к звёздам ✨. Попробуй позже или напиши вопрос короче."))
		return
	}

	if err := b.store.Users.UseFreeQuestion(ctx, userID); err != nil {
		b.logger.Error("Failed to consume free question", "user_id", userID, "error", err)
	}
	b.send(tgbotapi.NewEditMessageText(chatID, loading.MessageID,
		fmt.Sprintf("✨ Ответ на твой вопрос:\n\n%s\n\nБесплатный вопрос использован. Следующий будет через 3 дня.", answer)))
}

// === Callback queries ===

func (b *Bot) handleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if _, err := b.bot.Request(tgbotapi.NewCallback(callback.ID, "")); err != nil {
		b.logger.Error("Failed to answer callback", "error", err)
	}

	chatID := callback.From.ID
	if callback.Message != nil {
		chatID = callback.Message.Chat.ID
	}

	action := strings.TrimPrefix(callback.Data, "main:")
	switch action {
	case "free_tarot":
		b.startFreeQuestion(ctx, chatID, callback.From.ID)
	case "onboarding":
		b.StartOnboarding(chatID, callback.From.ID)
	default:
		b.sendMainMenu(chatID)
	}
}

func (b *Bot) startFreeQuestion(ctx context.Context, chatID, userID int64) {
	available, err := b.store.Users.HasFreeQuestion(ctx, userID)
	if err != nil || !available {
		b.send(tgbotapi.NewMessage(chatID,
			"⏳ Твой бесплатный вопрос обновится через несколько дней (раз в 3 дня).\n\nМожешь выбрать платный расклад в разделе «Все расклады 📋»."))
		return
	}
	b.session(userID).Step = StepFreeQuestion
	b.send(tgbotapi.NewMessage(chatID, "✨ Один бесплатный вопрос к нейросети. Напиши свой вопрос одним сообщением 👇"))
}

// === Stars payments ===

// handlePreCheckout confirms the invoice before Telegram charges the user:
// the order must exist, still be pending and belong to the payer.
func (b *Bot) handlePreCheckout(ctx context.Context, query *tgbotapi.PreCheckoutQuery) {
	answer := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: query.ID,
		OK:                 true,
	}

	order, err := b.store.Orders.GetByPayload(ctx, query.InvoicePayload)
	switch {
	case err != nil:
		answer.OK = false
		answer.ErrorMessage = "Заказ не найден. Попробуй оформить заказ снова из приложения."
	case order.Status != models.OrderStatusPending:
		answer.OK = false
		answer.ErrorMessage = "Этот заказ уже оплачен или отменён."
	case order.UserID != query.From.ID:
		answer.OK = false
		answer.ErrorMessage = "Счёт был отправлен другому пользователю. Оформи заказ из своего приложения."
	}

	if _, err := b.bot.Request(answer); err != nil {
		b.logger.Error("Failed to answer pre-checkout query", "error", err)
	}
}

// handleSuccessfulPayment marks the order paid and confirms in the chat.
func (b *Bot) handleSuccessfulPayment(ctx context.Context, message *tgbotapi.Message) {
	payment := message.SuccessfulPayment
	if payment == nil || payment.InvoicePayload == "" {
		return
	}

	order, err := b.store.Orders.GetByPayload(ctx, payment.InvoicePayload)
	if err != nil {
		b.send(tgbotapi.NewMessage(message.Chat.ID,
			"Оплата получена, но заказ не найден. Напиши в поддержку с номером заказа."))
		return
	}

	if err := b.store.Orders.MarkPaid(ctx, order.ID, payment.TelegramPaymentChargeID); err != nil {
		b.logger.Error("Failed to mark order paid", "order_id", order.ID, "error", err)
	}

	eta := ""
	if product := products.Get(order.ProductID); product != nil {
		eta = product.DeliveryETA
	}
	b.NotifyOrderPaid(ctx, order, eta)

	// Kick off delivery in the background for instant products.
	go b.deliverOrder(order)
}

// deliverOrder generates the purchased reading and stores it on the order.
func (b *Bot) deliverOrder(order *models.Order) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	user, err := b.store.Users.Get(ctx, order.UserID)
	if err != nil {
		b.logger.Error("Failed to load user for delivery", "order_id", order.ID, "error", err)
		return
	}

	params := ai.CardParams{
		UserName:      user.DisplayName,
		TarotCardName: order.ProductTitle,
	}
	text, err := b.gen.CardOfTheDay(ctx, params)
	if err != nil {
		b.logger.Error("Failed to generate order result", "order_id", order.ID, "error", err)
		return
	}

	if err := b.store.Orders.SetResult(ctx, order.ID, text); err != nil {
		b.logger.Error("Failed to store order result", "order_id", order.ID, "error", err)
	}
	if err := b.store.Orders.SetStatus(ctx, order.ID, models.OrderStatusDelivered); err != nil {
		b.logger.Error("Failed to mark order delivered", "order_id", order.ID, "error", err)
	}

	b.send(tgbotapi.NewMessage(order.UserID, fmt.Sprintf("🎉 Твой расклад «%s» готов!\n\n%s", order.ProductTitle, text)))
}
