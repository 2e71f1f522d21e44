package action

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"scrai/internal/schema"
	"scrai/internal/sim/world"
)

// KindWait is the no-op action. It is also the fallback proposal when an
// actor's decision fails or times out, so it must always be registered.
const KindWait = "wait"

// RegisterDefaults installs the builtin action vocabulary.
func RegisterDefaults(r *Registry) error {
	defs := []Definition{
		{Kind: KindWait, Execute: execWait},
		{Kind: "speak", Validate: validateUtterance, Execute: execSpeak("speak")},
		{Kind: "whisper", Validate: validateUtterance, Execute: execSpeak("whisper")},
		{Kind: "shout", Validate: validateUtterance, Execute: execSpeak("shout")},
		{Kind: "move_to", Validate: validateMoveTo, Execute: execMoveTo},
		{Kind: "examine", Validate: requireTarget, Execute: execExamine},
		{Kind: "take", Validate: validateTake, Execute: execTake},
		{Kind: "give", Validate: validateGive, Execute: execGive},
		{Kind: "observe", Execute: execObserve},
		{Kind: "stand", Execute: execPosture("stands up", "standing")},
		{Kind: "sit", Execute: execPosture("sits down", "sitting")},
		{Kind: "kneel", Execute: execPosture("kneels", "kneeling")},
		{Kind: "lie_down", Execute: execPosture("lies down", "lying")},
		{Kind: "think", Execute: execThink},
		{Kind: "reflect", Execute: execReflect},
		{Kind: "express_emotion", Validate: validateEmotion, Execute: execEmotion},
	}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// resolveTarget finds an entity by id or, failing that, by name.
func resolveTarget(w world.Reader, ref string) (world.Record, bool) {
	if id, err := uuid.Parse(ref); err == nil {
		if rec, err := w.Get(id); err == nil {
			return rec, true
		}
		return nil, false
	}
	return w.FindByName(ref)
}

func requireParam(pa ProposedAction, key string) (string, error) {
	s, ok := pa.Params.GetString(key)
	if !ok || strings.TrimSpace(s) == "" {
		return "", Invalidf("action %q requires %q parameter", pa.Kind, key)
	}
	return s, nil
}

func requireTarget(pa ProposedAction, _ *schema.Actor, w world.Reader) error {
	ref, err := requireParam(pa, "target")
	if err != nil {
		return err
	}
	if _, ok := resolveTarget(w, ref); !ok {
		return Invalidf("target not found: %s", ref)
	}
	return nil
}

// --- wait ---

func execWait(pa ProposedAction, actor *schema.Actor, _ world.Reader) (Outcome, error) {
	reason := pa.Params.StringOr("reason", "")
	msg := fmt.Sprintf("%s waits", actor.Name)
	if reason != "" {
		msg = fmt.Sprintf("%s waits %s", actor.Name, reason)
	}
	return Success(msg).
		WithChange(actor.ID, world.AppendMemory(msg)), nil
}

// --- speak / whisper / shout ---

func validateUtterance(pa ProposedAction, _ *schema.Actor, w world.Reader) error {
	if _, err := requireParam(pa, "message"); err != nil {
		return err
	}
	if ref, ok := pa.Params.GetString("target"); ok && strings.TrimSpace(ref) != "" {
		if _, found := resolveTarget(w, ref); !found {
			return Invalidf("target not found: %s", ref)
		}
	}
	return nil
}

func execSpeak(mode string) Executor {
	return func(pa ProposedAction, actor *schema.Actor, w world.Reader) (Outcome, error) {
		message, _ := pa.Params.GetString("message")
		tone := pa.Params.StringOr("tone", "normal")

		msg := fmt.Sprintf("%s %ss (%s): %q", actor.Name, mode, tone, message)
		data := schema.Bag{
			"message": schema.String(message),
			"mode":    schema.String(mode),
			"tone":    schema.String(tone),
		}
		e := schema.NewEvent(schema.EventActorSpoke, data)
		if ref, ok := pa.Params.GetString("target"); ok && strings.TrimSpace(ref) != "" {
			if rec, found := resolveTarget(w, ref); found {
				e = e.WithTarget(rec.Base().ID)
			}
		}
		return Success(msg).
			WithChange(actor.ID, world.Set("state."+schema.StateLastSpoken, schema.String(message))).
			WithChange(actor.ID, world.AppendMemory(fmt.Sprintf("Spoke with %s tone: %q", tone, message))).
			WithEvent(e), nil
	}
}

// --- move_to ---

func validateMoveTo(pa ProposedAction, actor *schema.Actor, w world.Reader) error {
	ref, err := requireParam(pa, "location")
	if err != nil {
		return err
	}
	rec, ok := resolveTarget(w, ref)
	if !ok {
		return Invalidf("location not found: %s", ref)
	}
	dest, ok := world.AsLocation(rec)
	if !ok {
		return Invalidf("%s is not a location", rec.Base().Name)
	}
	cur, err := w.LocationOf(actor.ID)
	if err != nil {
		return Blockedf("%s is nowhere that connects to %s", actor.Name, dest.Name)
	}
	if cur.ID == dest.ID {
		return Blockedf("%s is already at %s", actor.Name, dest.Name)
	}
	if _, connected := cur.ConnectionTo(dest.ID); !connected {
		return Blockedf("no path from %s to %s", cur.Name, dest.Name)
	}
	return nil
}

func execMoveTo(pa ProposedAction, actor *schema.Actor, w world.Reader) (Outcome, error) {
	ref, _ := pa.Params.GetString("location")
	rec, _ := resolveTarget(w, ref)
	dest, _ := world.AsLocation(rec)
	cur, err := w.LocationOf(actor.ID)
	if err != nil {
		return Outcome{}, err
	}

	e := schema.NewEvent(schema.EventActorMoved, schema.Bag{
		"from": schema.String(cur.ID.String()),
		"to":   schema.String(dest.ID.String()),
	}).WithTarget(dest.ID)

	msg := fmt.Sprintf("%s moves from %s to %s", actor.Name, cur.Name, dest.Name)
	return Success(msg).
		WithChange(actor.ID, world.Set("state."+schema.StateLocationID, schema.String(dest.ID.String()))).
		WithChange(actor.ID, world.AppendMemory(fmt.Sprintf("Moved to %s", dest.Name))).
		WithChange(cur.ID, world.RemoveContained(actor.ID)).
		WithChange(dest.ID, world.AddContained(actor.ID)).
		WithEvent(e), nil
}

// --- examine ---

func execExamine(pa ProposedAction, actor *schema.Actor, w world.Reader) (Outcome, error) {
	ref, _ := pa.Params.GetString("target")
	rec, ok := resolveTarget(w, ref)
	if !ok {
		return Outcome{}, Invalidf("target not found: %s", ref)
	}
	desc := rec.Base().Description
	if desc == "" {
		desc = "nothing remarkable"
	}
	msg := fmt.Sprintf("%s examines %s: %s", actor.Name, rec.Base().Name, desc)
	return Success(msg).
		WithChange(actor.ID, world.AppendMemory(fmt.Sprintf("Examined %s: %s", rec.Base().Name, desc))), nil
}

// --- take / give ---

func validateTake(pa ProposedAction, actor *schema.Actor, w world.Reader) error {
	ref, err := requireParam(pa, "target")
	if err != nil {
		return err
	}
	rec, ok := resolveTarget(w, ref)
	if !ok {
		return Invalidf("target not found: %s", ref)
	}
	if _, isActor := world.AsActor(rec); isActor {
		return Blockedf("%s cannot be picked up", rec.Base().Name)
	}
	cur, err := w.LocationOf(actor.ID)
	if err != nil {
		return Blockedf("%s is nowhere items can be taken from", actor.Name)
	}
	if !cur.Contains(rec.Base().ID) {
		return Blockedf("%s is not within reach", rec.Base().Name)
	}
	return nil
}

func execTake(pa ProposedAction, actor *schema.Actor, w world.Reader) (Outcome, error) {
	ref, _ := pa.Params.GetString("target")
	rec, _ := resolveTarget(w, ref)
	item := rec.Base()
	cur, err := w.LocationOf(actor.ID)
	if err != nil {
		return Outcome{}, err
	}

	msg := fmt.Sprintf("%s takes %s", actor.Name, item.Name)
	e := schema.NewEvent(schema.EventActorTook, schema.Bag{
		"item": schema.String(item.ID.String()),
	}).WithTarget(item.ID)
	return Success(msg).
		WithChange(cur.ID, world.RemoveContained(item.ID)).
		WithChange(actor.ID, world.Change{Field: "state.carrying", Op: world.OpAppend, Value: schema.String(item.ID.String())}).
		WithChange(item.ID, world.Set("state."+schema.StateLocationID, schema.String(actor.ID.String()))).
		WithChange(actor.ID, world.AppendMemory(fmt.Sprintf("Took %s", item.Name))).
		WithEvent(e), nil
}

func validateGive(pa ProposedAction, actor *schema.Actor, w world.Reader) error {
	tref, err := requireParam(pa, "target")
	if err != nil {
		return err
	}
	if _, err := requireParam(pa, "item"); err != nil {
		return err
	}
	rec, ok := resolveTarget(w, tref)
	if !ok {
		return Invalidf("target not found: %s", tref)
	}
	recipient, isActor := world.AsActor(rec)
	if !isActor {
		return Blockedf("%s cannot receive items", rec.Base().Name)
	}
	cur, err := w.LocationOf(actor.ID)
	if err != nil {
		return Blockedf("%s is nowhere to hand anything over", actor.Name)
	}
	there, err := w.LocationOf(recipient.ID)
	if err != nil || there.ID != cur.ID {
		return Blockedf("%s is not here", recipient.Name)
	}
	return nil
}

func execGive(pa ProposedAction, actor *schema.Actor, w world.Reader) (Outcome, error) {
	tref, _ := pa.Params.GetString("target")
	item, _ := pa.Params.GetString("item")
	rec, _ := resolveTarget(w, tref)
	recipient := rec.Base()

	msg := fmt.Sprintf("%s gives %s to %s", actor.Name, item, recipient.Name)
	e := schema.NewEvent(schema.EventActorGave, schema.Bag{
		"item": schema.String(item),
	}).WithTarget(recipient.ID)
	return Success(msg).
		WithChange(actor.ID, world.AppendMemory(msg)).
		WithChange(recipient.ID, world.AppendMemory(fmt.Sprintf("Received %s from %s", item, actor.Name))).
		WithEvent(e), nil
}

// --- observe ---

func execObserve(pa ProposedAction, actor *schema.Actor, w world.Reader) (Outcome, error) {
	cur, err := w.LocationOf(actor.ID)
	if err != nil {
		msg := fmt.Sprintf("%s observes, but the surroundings are unclear", actor.Name)
		return Success(msg).WithChange(actor.ID, world.AppendMemory(msg)), nil
	}
	var others []string
	for _, id := range cur.Contained {
		if id == actor.ID {
			continue
		}
		if rec, err := w.Get(id); err == nil {
			others = append(others, rec.Base().Name)
		}
	}
	sight := cur.Description
	if sight == "" {
		sight = cur.Name
	}
	if len(others) > 0 {
		sight = fmt.Sprintf("%s; present: %s", sight, strings.Join(others, ", "))
	}
	msg := fmt.Sprintf("%s observes the surroundings: %s", actor.Name, sight)
	return Success(msg).
		WithChange(actor.ID, world.AppendMemory(fmt.Sprintf("Observed: %s", sight))), nil
}

// --- stand / sit / kneel / lie_down ---

// execPosture builds the executor for one posture change. The resulting
// posture is what the decision prompt reports as the actor's status.
func execPosture(verb, posture string) Executor {
	return func(pa ProposedAction, actor *schema.Actor, _ world.Reader) (Outcome, error) {
		msg := fmt.Sprintf("%s %s", actor.Name, verb)
		return Success(msg).
			WithChange(actor.ID, world.Set("state."+schema.StatePosture, schema.String(posture))).
			WithChange(actor.ID, world.AppendMemory(msg)), nil
	}
}

// --- think / reflect ---

func execThink(pa ProposedAction, actor *schema.Actor, _ world.Reader) (Outcome, error) {
	topic := pa.Params.StringOr("topic", "the current situation")
	msg := fmt.Sprintf("%s thinks about %s", actor.Name, topic)
	return Success(msg).
		WithChange(actor.ID, world.Set("state."+schema.StateLastTopic, schema.String(topic))).
		WithChange(actor.ID, world.AppendMemory(fmt.Sprintf("Thought about %s", topic))), nil
}

// execReflect is the contemplative action family (pray, contemplate,
// meditate in the source material): it steadies the actor, easing fear and
// firming determination.
func execReflect(pa ProposedAction, actor *schema.Actor, _ world.Reader) (Outcome, error) {
	topic := pa.Params.StringOr("topic", "what has happened")
	intensity := pa.Params.StringOr("intensity", "medium")

	var ease float64
	switch intensity {
	case "low":
		ease = 0.1
	case "high":
		ease = 0.3
	default:
		ease = 0.2
	}

	msg := fmt.Sprintf("%s reflects on %s with %s intensity", actor.Name, topic, intensity)
	out := Success(msg).
		WithChange(actor.ID, world.AppendMemory(fmt.Sprintf("Reflected on %s", topic)))
	if _, ok := actor.Cognitive.Emotions["fear"]; ok {
		out = out.WithChange(actor.ID, world.Adjust("emotions.fear", -ease))
	}
	if _, ok := actor.Cognitive.Emotions["determination"]; ok {
		out = out.WithChange(actor.ID, world.Adjust("emotions.determination", ease/2))
	}
	return out, nil
}

// --- express_emotion ---

func validateEmotion(pa ProposedAction, _ *schema.Actor, _ world.Reader) error {
	_, err := requireParam(pa, "emotion")
	return err
}

func execEmotion(pa ProposedAction, actor *schema.Actor, _ world.Reader) (Outcome, error) {
	label, _ := pa.Params.GetString("emotion")
	intensity := pa.Params.StringOr("intensity", "medium")

	var boost float64
	switch intensity {
	case "low":
		boost = 0.1
	case "high":
		boost = 0.3
	default:
		boost = 0.2
	}

	msg := fmt.Sprintf("%s shows %s (%s intensity)", actor.Name, label, intensity)
	e := schema.NewEvent(schema.EventActorEmotion, schema.Bag{
		"emotion":   schema.String(label),
		"intensity": schema.String(intensity),
	})
	return Success(msg).
		WithChange(actor.ID, world.Adjust("emotions."+label, boost)).
		WithChange(actor.ID, world.AppendMemory(fmt.Sprintf("Expressed %s with %s intensity", label, intensity))).
		WithEvent(e), nil
}
