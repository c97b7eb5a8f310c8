package intent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trackbot/backend/internal/metrics"
	"github.com/trackbot/backend/pkg/logger"
)

const (
	greetingReply     = "Hello! I can list and count defects, create requirements and defects, look up release dates and summarize projects. What would you like to know?"
	howAreYouReply    = "I'm doing well, thanks for asking! How can I help with your projects today?"
	releaseGuardReply = "Do you want to know a release date? Try asking \"release date for <project>\"."
	dateGuardReply    = "Which date do you mean? I can tell you today's date or the release date of a project."
)

var (
	greetingPattern  = regexp.MustCompile(`^(hi|hello|hey|hiya|ahoj|good (morning|afternoon|evening))( there)?$`)
	howAreYouPattern = regexp.MustCompile(`\bhow are (you|u)\b|\bhow's it going\b`)
	todayPattern     = regexp.MustCompile(`\bwhat('s| is) (the )?(date|day)( today)?\b|\bwhat day is (it|today)\b|\btoday'?s date\b|\bwhat is today\b`)
	namedayPattern   = regexp.MustCompile(`\bname ?days?\b|\bsvátek\b`)
	jokePattern      = regexp.MustCompile(`\bjokes?\b|\bmake me laugh\b`)
	weatherPattern   = regexp.MustCompile(`\bweather\b|\bforecast\b`)
	cityPattern      = regexp.MustCompile(`(?i)\b(?:in|for|at)\s+([\p{L}][\p{L}.' -]*?)\s*(?:\b(?:today|tomorrow|now|right now|please)\b)?\s*[?.!]*$`)

	releaseWord     = regexp.MustCompile(`\breleases?\b`)
	dateWord        = regexp.MustCompile(`\bdates?\b`)
	releaseDateWord = regexp.MustCompile(`\brelease dates?\b`)
	todayWord       = regexp.MustCompile(`\btoday\b`)
)

type Resolver struct {
	classifier Classifier
	now        func() time.Time
	location   *time.Location
}

type Option func(*Resolver)

// WithClock replaces time.Now for the date reply.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func WithLocation(loc *time.Location) Option {
	return func(r *Resolver) {
		if loc != nil {
			r.location = loc
		}
	}
}

func NewResolver(classifier Classifier, opts ...Option) *Resolver {
	r := &Resolver{
		classifier: classifier,
		now:        time.Now,
		location:   time.Local,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve runs the deterministic rules and, if none applies, the classifier.
// Classifier failures are returned as *ClassifierError.
func (r *Resolver) Resolve(ctx context.Context, msg Message) (*Resolution, error) {
	if res := r.deterministic(msg); res != nil {
		logger.Debug("Message resolved without classifier",
			zap.String("intent", string(res.Intent)),
			zap.Bool("answered", res.Answered()),
		)
		return res, nil
	}

	raw, err := r.classifier.Classify(ctx, BuildPrompt(msg))
	if err != nil {
		cerr := classifierError(err)
		metrics.ClassifierFailures.WithLabelValues(string(cerr.Kind)).Inc()
		logger.Warn("Classifier call failed", zap.String("kind", string(cerr.Kind)), zap.Error(err))
		return nil, cerr
	}

	parsed, err := ParseResponse(raw)
	if err != nil {
		metrics.ClassifierFailures.WithLabelValues(string(KindParse)).Inc()
		logger.Warn("Classifier response rejected", zap.Error(err), zap.String("response", raw))
		return nil, &ClassifierError{Kind: KindParse, Err: err}
	}

	res := &Resolution{Intent: parsed.Intent, Params: parsed.Params}
	fillSlots(res, msg)

	logger.Info("Message classified",
		zap.String("intent", string(res.Intent)),
		zap.Any("params", res.Params),
	)
	return res, nil
}

func (r *Resolver) deterministic(msg Message) *Resolution {
	text := strings.ToLower(strings.TrimSpace(msg.Text))
	bare := strings.TrimSpace(strings.TrimRight(text, ".,!?"))

	switch {
	case greetingPattern.MatchString(bare):
		return &Resolution{Reply: greetingReply}
	case howAreYouPattern.MatchString(text):
		return &Resolution{Reply: howAreYouReply}
	case todayPattern.MatchString(text) && !releaseWord.MatchString(text):
		return &Resolution{Reply: r.todayReply()}
	case namedayPattern.MatchString(text):
		return &Resolution{Intent: Nameday, Params: Parameters{}}
	case jokePattern.MatchString(text):
		return &Resolution{Intent: Joke, Params: Parameters{}}
	case weatherPattern.MatchString(text):
		params := Parameters{}
		if m := cityPattern.FindStringSubmatch(strings.TrimSpace(msg.Text)); m != nil {
			if city := trimValue(m[1]); city != "" {
				params[ParamCity] = city
			}
		}
		return &Resolution{Intent: Weather, Params: params}
	case releaseWord.MatchString(text) && !dateWord.MatchString(text):
		return &Resolution{Reply: releaseGuardReply}
	case dateWord.MatchString(text) && !releaseDateWord.MatchString(text) && !todayWord.MatchString(text):
		return &Resolution{Reply: dateGuardReply}
	}
	return nil
}

func (r *Resolver) todayReply() string {
	return fmt.Sprintf("Today is %s.", r.now().In(r.location).Format("Monday, January 2, 2006"))
}

// fillSlots completes parameters the classifier left empty using the extractors.
func fillSlots(res *Resolution, msg Message) {
	set := func(key string, extract Extractor) {
		if res.Params.Get(key) != "" {
			return
		}
		if v, ok := extract(msg.Text); ok {
			res.Params[key] = v
		}
	}

	switch res.Intent {
	case ListDefects, CountDefects, ReleaseDate, ProjectSummary:
		in := res.Intent
		set(ParamProject, func(text string) (string, bool) { return ExtractProject(text, in) })
	case CreateItem:
		set(ParamItemType, ExtractItemType)
		set(ParamProject, FirstOf(ExtractConversationalProject, func(text string) (string, bool) {
			return ExtractProject(text, CreateItem)
		}))
		set(ParamTitle, ExtractTitle)
		set(ParamSprint, ExtractSprint)
	}

	if res.Params.Get(ParamProject) == "" && strings.TrimSpace(msg.ProjectContext) != "" {
		switch res.Intent {
		case ListDefects, CountDefects, ReleaseDate, ProjectSummary, CreateItem:
			res.Params[ParamProject] = strings.TrimSpace(msg.ProjectContext)
		}
	}
}
