// ABOUTME: Doctor report pipeline: facility lookup + language detection + parse, then diagnose, then narrate
// ABOUTME: Single-flight per conversation; partial Stage A failures degrade, Stage B/C failures notify the user

package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/2389/intake-gateway/internal/agent"
	"github.com/2389/intake-gateway/internal/facility"
	"github.com/2389/intake-gateway/internal/hub"
	"github.com/2389/intake-gateway/internal/store"
)

// facilityPlaceholder stands in when neither facility search finds
// anything; the final-report agent weaves it into the narrative.
const facilityPlaceholder = "apotek atau rumah sakit terdekat tidak dapat ditemukan"

// pipelineTimeout bounds one full report run; the chain makes three
// serial model calls plus two OSM lookups.
const pipelineTimeout = 10 * time.Minute

// languageNames maps detected language tags to the names the final-report
// agent understands.
var languageNames = map[string]string{
	"id-id": "bahasa indonesia",
	"id-su": "sundanese",
	"id-jv": "javanese",
}

// Store is the persistence surface the pipeline needs.
type Store interface {
	GetProfile(ctx context.Context, userID string) (*store.Profile, error)
	InsertMessage(ctx context.Context, conversationID, sender, content string) (*store.Message, error)
}

// Searcher finds nearby facilities. Satisfied by *facility.Finder.
type Searcher interface {
	Search(ctx context.Context, kind, address string) []string
}

// Runner is the resilient agent contract the pipeline drives.
type Runner interface {
	Run(ctx context.Context, vars map[string]string) (*agent.Result, error)
}

// Notifier delivers pipeline outcomes. Satisfied by *hub.Hub.
type Notifier interface {
	Broadcast(conversationID string, msg map[string]any, exclude hub.Conn)
	SendToUser(userID, conversationID string, msg map[string]any) bool
}

// Agents bundles the four agents a report run drives.
type Agents struct {
	Parser   Runner // conversation -> structured English fields
	Language Runner // conversation -> language tag + title
	Doctor   Runner // structured fields -> clinical assessment
	Report   Runner // assessment -> patient-facing narrative
}

// Pipeline turns a completed intake conversation into a doctor report.
// At most one run per conversation is in flight; a conversation that has
// already produced a report is never re-run.
type Pipeline struct {
	store    Store
	finder   Searcher
	agents   Agents
	notifier Notifier
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]bool
	done    map[string]bool
	wg      sync.WaitGroup
}

// New wires a report pipeline. Pass nil logger for default.
func New(st Store, finder Searcher, agents Agents, notifier Notifier, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:    st,
		finder:   finder,
		agents:   agents,
		notifier: notifier,
		logger:   logger.With("component", "report"),
		running:  make(map[string]bool),
		done:     make(map[string]bool),
	}
}

// Schedule starts a background report run for the conversation. Returns
// false without side effects when a run is already in flight or the
// conversation already has a report. The run is detached from the
// caller's context: a client disconnect must not cancel it.
func (p *Pipeline) Schedule(conversationID, userID, historyText string) bool {
	p.mu.Lock()
	if p.running[conversationID] || p.done[conversationID] {
		p.mu.Unlock()
		return false
	}
	p.running[conversationID] = true
	p.mu.Unlock()

	p.wg.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), pipelineTimeout)
		defer cancel()
		p.run(ctx, conversationID, userID, historyText)
	})
	return true
}

// Wait blocks until all in-flight runs finish. Used at shutdown.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) run(ctx context.Context, conversationID, userID, historyText string) {
	logger := p.logger.With("conversation_id", conversationID)
	logger.Info("report run started")

	err := p.generate(ctx, conversationID, userID, historyText)

	p.mu.Lock()
	delete(p.running, conversationID)
	if err == nil {
		p.done[conversationID] = true
	}
	p.mu.Unlock()

	if err != nil {
		logger.Error("report run failed", "error", err)
		p.notifier.SendToUser(userID, conversationID, map[string]any{
			"type":    "doctor_report_error",
			"message": "Failed to process doctor report. Please try again.",
		})
		return
	}
	logger.Info("report run completed")
}

// stageA holds the concurrent first stage's outputs.
type stageA struct {
	pharmacies []string
	hospitals  []string
	language   *agent.Result
	parsed     *agent.Result
}

func (p *Pipeline) generate(ctx context.Context, conversationID, userID, historyText string) error {
	profile, err := p.store.GetProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("fetching profile: %w", err)
	}
	address := profile.FullAddress()

	// Stage A: two facility searches and two agent calls, all at once.
	// Each branch fails independently; a failed facility search just
	// means fewer suggestions.
	var (
		a  stageA
		wg sync.WaitGroup
	)
	wg.Go(func() { a.pharmacies = p.finder.Search(ctx, facility.KindPharmacy, address) })
	wg.Go(func() { a.hospitals = p.finder.Search(ctx, facility.KindHospital, address) })
	wg.Go(func() {
		res, err := p.agents.Language.Run(ctx, map[string]string{
			"content":      historyText,
			"display_name": profile.DisplayName,
		})
		if err != nil {
			p.logger.Warn("language detection aborted", "conversation_id", conversationID, "error", err)
			return
		}
		a.language = res
	})
	wg.Go(func() {
		res, err := p.agents.Parser.Run(ctx, map[string]string{"content": historyText})
		if err != nil {
			p.logger.Warn("parse aborted", "conversation_id", conversationID, "error", err)
			return
		}
		a.parsed = res
	})
	wg.Wait()

	// The parse is the one Stage A output the rest of the chain cannot
	// proceed without.
	if a.parsed == nil || a.parsed.Object == nil {
		return fmt.Errorf("conversation parse produced no output")
	}

	facilities := combineFacilities(a.pharmacies, a.hospitals)
	lang := languageNames[a.language.String("language")]
	if lang == "" {
		lang = "unknown"
	}

	// Stage B: clinical assessment over the parsed fields plus
	// demographics.
	assessment, err := p.agents.Doctor.Run(ctx, map[string]string{
		"content": patientData(a.parsed.Object, profile),
	})
	if err != nil {
		return fmt.Errorf("diagnostic stage: %w", err)
	}
	if assessment == nil || assessment.Object == nil {
		return fmt.Errorf("diagnostic stage produced no output")
	}

	// Stage C: patient-facing narrative in the user's language.
	narrative, err := p.agents.Report.Run(ctx, map[string]string{
		"content":      assessmentSummary(assessment.Object),
		"display_name": profile.DisplayName,
		"hospital":     facilities,
		"lang":         lang,
	})
	if err != nil {
		return fmt.Errorf("narrative stage: %w", err)
	}
	if narrative == nil || narrative.Text == "" {
		return fmt.Errorf("narrative stage produced no output")
	}

	msg, err := p.store.InsertMessage(ctx, conversationID, store.SenderBot, narrative.Text)
	if err != nil {
		return fmt.Errorf("persisting report: %w", err)
	}

	p.notifier.Broadcast(conversationID, map[string]any{
		"type": "new_message",
		"message": map[string]any{
			"id":         msg.ID,
			"sender":     msg.Sender,
			"content":    msg.Content,
			"created_at": msg.CreatedAt.Format(time.RFC3339),
		},
	}, nil)
	p.notifier.SendToUser(userID, conversationID, map[string]any{
		"type":    "doctor_report_ready",
		"message": "Your doctor report is now available.",
		"action":  "reload_chat",
	})
	return nil
}

// combineFacilities joins both search results into one block, or the
// placeholder when both came back empty.
func combineFacilities(pharmacies, hospitals []string) string {
	var parts []string
	if len(pharmacies) > 0 {
		parts = append(parts, strings.Join(pharmacies, "\n"))
	}
	if len(hospitals) > 0 {
		parts = append(parts, strings.Join(hospitals, "\n"))
	}
	if len(parts) == 0 {
		return facilityPlaceholder
	}
	return strings.Join(parts, "\n")
}

// patientData flattens the parsed intake fields plus demographics into
// the line-per-field block the diagnostic agent was tuned on.
func patientData(parsed map[string]any, profile *store.Profile) string {
	age := "unknown"
	if a := profile.Age(time.Now()); a >= 0 {
		age = strconv.Itoa(a)
	}
	gender := profile.Gender
	if gender == "" {
		gender = "unknown"
	}

	var b strings.Builder
	b.WriteString("Patient data:\n")
	fmt.Fprintf(&b, "- Age: %s\n", age)
	fmt.Fprintf(&b, "- Gender: %s\n", gender)
	writeField(&b, "Chief Complaint", parsed["chief_complaint"])
	writeField(&b, "History of Present Illness", parsed["history_present_illness"])
	writeField(&b, "Review of Systems", parsed["review_of_systems"])
	writeField(&b, "Past Medical History", parsed["past_medical_history"])
	if ma, ok := parsed["medications_and_allergies"].(map[string]any); ok {
		writeField(&b, "Medications", ma["current_medications"])
		writeField(&b, "Allergies", ma["allergies"])
	}
	b.WriteString("\nPlease provide the complete output in the required JSON format.")
	return b.String()
}

// assessmentSummary renders the diagnostic output as the labelled block
// the final-report agent consumes. Fields come out in a fixed order.
func assessmentSummary(assessment map[string]any) string {
	fields := []struct {
		label string
		key   string
	}{
		{"Diagnosis", "diagnosis"},
		{"History and Examination Findings", "history_and_examination_findings"},
		{"Investigation Plan", "investigation_plan"},
		{"Management Plan", "management_plan"},
		{"Prognosis", "prognosis"},
		{"Doctor's Prescription", "doctors_prescription"},
		{"Patient Summary", "summary"},
	}
	var b strings.Builder
	for _, f := range fields {
		if v, ok := assessment[f.key]; ok {
			writeField(&b, f.label, v)
		}
	}
	return b.String()
}

// writeField writes one "- Label: value" line. Non-string values render
// as compact JSON with deterministic key order.
func writeField(b *strings.Builder, label string, value any) {
	if value == nil {
		return
	}
	switch v := value.(type) {
	case string:
		fmt.Fprintf(b, "- %s: %s\n", label, v)
	default:
		fmt.Fprintf(b, "- %s: %s\n", label, compactJSON(v))
	}
}

// compactJSON marshals a value for prompt embedding. encoding/json sorts
// map keys, which keeps the prompt stable across runs.
func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// Running reports the conversations with a run currently in flight,
// sorted. Exposed for observability.
func (p *Pipeline) Running() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.running))
	for id := range p.running {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
