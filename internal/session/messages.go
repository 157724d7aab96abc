// ABOUTME: User-facing texts and keyboards of the chat flows
// ABOUTME: Copy is Russian to match the Redmine instance's audience

package session

import (
	"fmt"
	"html"
	"strings"
)

const (
	msgBackendUnavailable  = "Сервер Редмайн не доступен. Обратитесь к вашему админу."
	msgCredentialsDown     = "Сервис временно недоступен, попробуйте позже."
	msgNoIssueRef          = "Не могу найти номер задачи... :("
	msgTaskNumberDigits    = "Номер задачи должен быть из цифр"
	msgAskTaskNumber       = "Пожалуйста, укажите номер задачи."
	msgDeclined            = "Нет, так нет..."
	msgAnswerYesNo         = "Ответьте «Да» или «Нет»."
	msgConfirmDescription  = "Создать задачу с этим описанием?"
	msgAskSubject          = "Напишите тему для задачи:"
	msgEmptySubject        = "Тема задачи не может быть пустой. " + msgAskSubject
	msgAskPriorityChange   = "Изменить приоритет перед созданием задачи?\nПо умолчанию '%s'"
	msgPickPriority        = "Выберете приоритет:"
	msgPickIssue           = "Выберете задачу:"
	msgPickSelector        = "Выберете %s:"
	msgPickSelectorAgain   = "Выберите значение из списка, формат: «Название | ID: номер»."
	msgCancelled           = "Отменено."
	msgCommentFormat       = "Вы не написали комментарий к задаче или использовали не верный формат\nФормат: /add_comment 110022 Комментарий к задаче."
	msgCreateFormat        = "Напишите описание задачи после команды\nФормат: /create_task Описание задачи."
	msgFormNeedsText       = "Сначала отправьте описание задачи: сообщение длиннее пяти слов."
	msgSelectorsFormat     = "Укажите список: /selectors Проект | Трекер | Приоритет | Статус"
	msgHint                = "Не понял вас. Наберите /help, чтобы увидеть список команд."
	msgUnknownCommand      = "Неизвестная команда. Наберите /help, чтобы увидеть список команд."
	msgFileReceived        = "Файл %s получен. Вложенных файлов: %d"
	msgSubjectPlaceholder  = "Будет задана при создании задачи"
	msgFormFooter          = "--------\nНиже вы можете изменить параметры новой задачи"
	msgCommentAdded        = "Комментарий к задаче #%d добавлен."
	msgOpenIssueCount      = "У Вас %d открытых задач."
	msgNoOpenIssues        = "На пользователя %s нет открытых задач."
	msgUserNotFound        = "Пользователь с именем %s не найден в Redmine."
	msgNoProjects          = "У пользователя %s нет доступа ни к одному проекту."
	msgIssueNotFound       = "Задача с номером %d не найдена."
	msgConfirmTask         = "Хорошо!\nЗадача №%d?"
	msgActionShowTask      = "Отлично!\nПоказываю задачу %d"
	msgActionAddComment    = "Отлично!\nДобавляю комментарий к задаче №%d"
	msgLongTextMenuHeading = "Как поступить с Вашим комментарием?\nДобавить в последнюю задачу,\nвыбрать задачу из списка или создать новую?\n"
)

// Selector keys are the labels of the form buttons that open pick lists.
const (
	SelectorProject  = "Проект"
	SelectorTracker  = "Трекер"
	SelectorPriority = "Приоритет"
	SelectorStatus   = "Статус"
)

// Yes/no answers are matched case-insensitively.
const (
	answerYes = "да"
	answerNo  = "нет"
)

func yesNoKeyboard() *Keyboard {
	return &Keyboard{Replies: []string{"Да", "Нет"}}
}

func replyKeyboard(options []string) *Keyboard {
	return &Keyboard{Replies: options}
}

func longTextMenuKeyboard() *Keyboard {
	return &Keyboard{Inline: [][]Button{
		{{Label: "Добавить в последнюю задачу", Code: CallbackAddComment}},
		{{Label: "Выбрать задачу", Code: CallbackShowTop10}},
		{{Label: "Создать новую задачу", Code: CallbackCreateTaskForm}},
		{{Label: "Завершить текущий диалог", Code: CallbackCancel}},
	}}
}

func formKeyboard() *Keyboard {
	return &Keyboard{Inline: [][]Button{
		{
			{Label: SelectorProject, Code: CallbackProjectSelector},
			{Label: SelectorTracker, Code: CallbackTrackerSelector},
			{Label: SelectorPriority, Code: CallbackAskPriority},
		},
		{{Label: "Создать задачу", Code: CallbackCreateTask}},
		{{Label: "Отмена", Code: CallbackCancel}},
	}}
}

func priorityInlineKeyboard() *Keyboard {
	return &Keyboard{Inline: [][]Button{
		{{Label: "НЕМЕДЛЕННО", Code: CallbackPriority7}},
		{{Label: "Срочно", Code: CallbackPriority6}},
		{{Label: "Отмена", Code: CallbackCancel}},
	}}
}

func bold(s string) string {
	return "<b>" + s + "</b>"
}

func longTextMenu(files int, lastIssue string) string {
	var b strings.Builder
	b.WriteString(msgLongTextMenuHeading)
	fmt.Fprintf(&b, "%s%d\n--------\n", bold("Вложенных файлов: "), files)
	b.WriteString("Последняя задача:\n")
	b.WriteString(lastIssue)
	return b.String()
}

// formView is what the creation form displays.
type formView struct {
	Project     string
	Tracker     string
	Priority    string
	Subject     string
	Description string
	Files       int
}

func formText(v formView, withFooter bool) string {
	subject := v.Subject
	if subject == "" {
		subject = msgSubjectPlaceholder
	}

	var b strings.Builder
	b.WriteString(bold("Создание новой задачи") + "\n\n")
	b.WriteString(bold("Проект: ") + html.EscapeString(v.Project) + "\n")
	b.WriteString(bold("Трекер: ") + html.EscapeString(v.Tracker) + "\n")
	b.WriteString(bold("Приоритет: ") + html.EscapeString(v.Priority) + "\n")
	b.WriteString(bold("Тема: ") + html.EscapeString(subject) + "\n")
	b.WriteString(bold("Описание: ") + html.EscapeString(v.Description) + "\n")
	fmt.Fprintf(&b, "%s%d\n", bold("Вложенных файлов: "), v.Files)
	if withFooter {
		b.WriteString(msgFormFooter)
	}
	return b.String()
}
