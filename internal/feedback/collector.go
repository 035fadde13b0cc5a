package feedback

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kranthiB/kubepilot/pkg/models"
)

// CollectorConfig tunes an interactive collector.
type CollectorConfig struct {
	// Mode selects the rating style. Defaults to thumbs.
	Mode models.FeedbackMode
	// RetryOnNoResponse re-prompts once when the first response is unusable.
	RetryOnNoResponse bool
	// Metadata keys copied onto every record.
	Metadata map[string]string
}

// Collector prompts the operator for a rating after a plan finishes. An
// absent or unusable response is never an error: the record is marked
// unknown and treated as neutral downstream.
type Collector struct {
	in   *bufio.Scanner
	out  io.Writer
	mode models.FeedbackMode
	cfg  CollectorConfig
}

// NewCollector builds a collector reading from in and prompting on out.
func NewCollector(in io.Reader, out io.Writer, cfg CollectorConfig) *Collector {
	mode := cfg.Mode
	if !mode.Valid() {
		mode = models.FeedbackModeThumbs
	}
	return &Collector{
		in:   bufio.NewScanner(in),
		out:  out,
		mode: mode,
		cfg:  cfg,
	}
}

// Collect prompts for feedback on a finished plan and returns the record.
func (c *Collector) Collect(outcome *models.PlanOutcome, category string) *models.FeedbackRecord {
	rec := &models.FeedbackRecord{
		ID:           uuid.New().String(),
		PlanID:       outcome.PlanID,
		GoalCategory: category,
		Result:       models.FeedbackUnknown,
		CreatedAt:    time.Now(),
	}
	if len(c.cfg.Metadata) > 0 {
		rec.Metadata = make(map[string]string, len(c.cfg.Metadata))
		for k, v := range c.cfg.Metadata {
			rec.Metadata[k] = v
		}
	}

	attempts := 1
	if c.cfg.RetryOnNoResponse {
		attempts = 2
	}
	for i := 0; i < attempts; i++ {
		c.prompt(outcome)
		line, ok := c.readLine()
		if !ok {
			break
		}
		if c.classify(line, rec) {
			return rec
		}
		if i+1 < attempts {
			fmt.Fprintln(c.out, "Sorry, I didn't catch that.")
		}
	}
	return rec
}

func (c *Collector) prompt(outcome *models.PlanOutcome) {
	fmt.Fprintf(c.out, "\nPlan %s finished: %s (%d succeeded, %d failed, %d blocked, %d skipped)\n",
		outcome.PlanID, outcome.Status,
		outcome.Succeeded, outcome.Failed, outcome.Blocked, outcome.Skipped)
	switch c.mode {
	case models.FeedbackModeStars:
		fmt.Fprint(c.out, "How did that go? Rate 1-5: ")
	case models.FeedbackModeFreeText:
		fmt.Fprint(c.out, "Any feedback on this run? ")
	default:
		fmt.Fprint(c.out, "Was this helpful? (y/n): ")
	}
}

func (c *Collector) readLine() (string, bool) {
	if !c.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.in.Text()), true
}

// classify interprets the response per the collector mode. It returns false
// when the response is unusable so the caller may re-prompt.
func (c *Collector) classify(line string, rec *models.FeedbackRecord) bool {
	if line == "" {
		return false
	}
	switch c.mode {
	case models.FeedbackModeStars:
		rating, err := strconv.Atoi(line)
		if err != nil || rating < 1 || rating > 5 {
			return false
		}
		rec.Rating = rating
		rec.Result = ClassifyStars(rating)
	case models.FeedbackModeFreeText:
		rec.Text = line
		rec.Result = ClassifyText(line)
	default:
		switch strings.ToLower(line) {
		case "y", "yes", "+1", "👍":
			rec.Result = models.FeedbackPositive
		case "n", "no", "-1", "👎":
			rec.Result = models.FeedbackNegative
		default:
			return false
		}
	}
	return true
}

// ClassifyStars maps a 1-5 rating to a result: 4 and above is positive,
// 2 and below negative, 3 neutral.
func ClassifyStars(rating int) models.FeedbackResult {
	switch {
	case rating >= 4:
		return models.FeedbackPositive
	case rating <= 2:
		return models.FeedbackNegative
	default:
		return models.FeedbackNeutral
	}
}

var (
	positiveWords = []string{"great", "good", "perfect", "worked", "thanks", "helpful", "nice"}
	negativeWords = []string{"bad", "wrong", "broke", "broken", "failed", "useless", "worse", "slow"}
)

// ClassifyText scores free text by sentiment keywords. Ties and no matches
// are neutral.
func ClassifyText(text string) models.FeedbackResult {
	lower := strings.ToLower(text)
	pos, neg := 0, 0
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			pos++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			neg++
		}
	}
	switch {
	case pos > neg:
		return models.FeedbackPositive
	case neg > pos:
		return models.FeedbackNegative
	default:
		return models.FeedbackNeutral
	}
}
