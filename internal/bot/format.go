package bot

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/example/tradeprep/internal/session"
	"github.com/example/tradeprep/pkg/models"
)

// Callback data prefixes. Telegram limits callback data to 64 bytes.
const (
	callbackCategory = "cat:"
	callbackAnswer   = "ans:"
	callbackNext     = "next"
	callbackMenu     = "menu"

	maxCallbackData = 64
)

func optionLabel(i int) string {
	if i < 26 {
		return string(rune('A' + i))
	}
	return strconv.Itoa(i + 1)
}

// questionText renders the current item with lettered options
func questionText(v session.View) string {
	if v.Current == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s · question %d of %d\n\n", v.Category, v.Position+1, v.Total)
	sb.WriteString(v.Current.Prompt)
	sb.WriteString("\n")
	for i, opt := range v.Current.Options {
		fmt.Fprintf(&sb, "\n%s) %s", optionLabel(i), opt.Text)
	}
	return sb.String()
}

// itemRef is a short fixed-length stand-in for an item id, so answer buttons
// stay within the callback data limit whatever the id looks like
func itemRef(itemID string) string {
	h := fnv.New32a()
	h.Write([]byte(itemID))
	return fmt.Sprintf("%08x", h.Sum32())
}

func answerData(itemID string, option int) string {
	return callbackAnswer + itemRef(itemID) + ":" + strconv.Itoa(option)
}

// parseAnswerData reads "ans:<ref>:<option>"
func parseAnswerData(data string) (ref string, option int, err error) {
	ref, opt, ok := strings.Cut(strings.TrimPrefix(data, callbackAnswer), ":")
	if !ok || ref == "" {
		return "", 0, fmt.Errorf("malformed answer data %q", data)
	}
	option, err = strconv.Atoi(opt)
	if err != nil {
		return "", 0, fmt.Errorf("malformed answer data %q: %w", data, err)
	}
	return ref, option, nil
}

// questionButtons returns one button per option, up to four per row
func questionButtons(v session.View) [][]MenuButton {
	if v.Current == nil {
		return nil
	}
	var rows [][]MenuButton
	var row []MenuButton
	for i := range v.Current.Options {
		row = append(row, MenuButton{Text: optionLabel(i), CallbackData: answerData(v.Current.ID, i)})
		if len(row) == 4 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return rows
}

// answerText renders feedback for a graded answer
func answerText(item *models.Item, res session.AnswerResult) string {
	var sb strings.Builder
	if res.Correct {
		sb.WriteString("✅ Correct!")
	} else {
		sb.WriteString("❌ Not quite.")
		if item != nil {
			var correct []string
			for _, idx := range res.CorrectIndexes {
				if idx < len(item.Options) {
					correct = append(correct, fmt.Sprintf("%s) %s", optionLabel(idx), item.Options[idx].Text))
				}
			}
			if len(correct) > 0 {
				sb.WriteString("\nCorrect answer: " + strings.Join(correct, ", "))
			}
		}
	}
	if res.Explanation != "" {
		sb.WriteString("\n\n" + res.Explanation)
	}
	sb.WriteString("\n\n" + nextReviewText(res.Schedule.IntervalDays))
	if res.Mastered {
		sb.WriteString("\n🎓 Mastered")
	}
	return sb.String()
}

func nextReviewText(days int) string {
	if days == 1 {
		return "Next review: tomorrow"
	}
	return fmt.Sprintf("Next review: in %d days", days)
}

func summaryText(r models.SessionResult) string {
	if r.Total == 0 {
		return fmt.Sprintf("Nothing to review in %s right now. Come back later!", r.Category)
	}
	return fmt.Sprintf("🏁 %s session complete: %d of %d correct.", r.Category, r.Correct, r.Answered)
}

func statsText(stats []models.CategoryStats) string {
	if len(stats) == 0 {
		return "No categories yet."
	}
	var sb strings.Builder
	sb.WriteString("📊 Your progress\n")
	for _, s := range stats {
		fmt.Fprintf(&sb, "\n%s: %d items, %d seen, %d due, %d new, %d mastered",
			s.Category, s.TotalItems, s.Seen, s.Due, s.New, s.Mastered)
	}
	return sb.String()
}

func historyText(results []models.SessionResult) string {
	if len(results) == 0 {
		return "No finished sessions yet."
	}
	var sb strings.Builder
	sb.WriteString("🗓 Recent sessions\n")
	for _, r := range results {
		fmt.Fprintf(&sb, "\n%s %s: %d of %d correct", r.FinishedAt.UTC().Format("2006-01-02"), r.Category, r.Correct, r.Answered)
	}
	return sb.String()
}

// itemText shows an item with its answer key, for admins
func itemText(item *models.Item) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s]\n%s\n", item.ID, item.Category, item.Prompt)
	for i, opt := range item.Options {
		mark := ""
		if opt.IsCorrect {
			mark = " ✓"
		}
		fmt.Fprintf(&sb, "\n%s) %s%s", optionLabel(i), opt.Text, mark)
	}
	if item.Explanation != "" {
		sb.WriteString("\n\n" + item.Explanation)
	}
	return sb.String()
}

func reminderText(due int) string {
	noun := "items"
	if due == 1 {
		noun = "item"
	}
	return fmt.Sprintf("⏰ You have %d %s due for review. Send /categories to start practicing.", due, noun)
}

func boolToEnabledString(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

// categoryButtons returns one row per category whose name fits in callback data
func categoryButtons(categories []string) [][]MenuButton {
	var rows [][]MenuButton
	for _, c := range categories {
		data := callbackCategory + c
		if len(data) > maxCallbackData {
			continue
		}
		rows = append(rows, []MenuButton{{Text: c, CallbackData: data}})
	}
	return rows
}

// parseNotifyArgs reads "on", "off" or an hour 0-23
func parseNotifyArgs(args string, current models.User) (enabled bool, hour int, err error) {
	enabled, hour = current.NotificationEnabled, current.NotificationHour
	switch a := strings.ToLower(strings.TrimSpace(args)); a {
	case "on":
		return true, hour, nil
	case "off":
		return false, hour, nil
	default:
		h, convErr := strconv.Atoi(strings.TrimSuffix(a, ":00"))
		if convErr != nil || h < 0 || h > 23 {
			return enabled, hour, fmt.Errorf("expected on, off or an hour 0-23, got %q", args)
		}
		return true, h, nil
	}
}
