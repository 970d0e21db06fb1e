package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/KeLuoJun/MindCast/internal/agent"
	"github.com/KeLuoJun/MindCast/internal/podcast"
	"github.com/KeLuoJun/MindCast/internal/runlog"
)

// coldOpenFormat is spoken verbatim by the host before anything generated.
const coldOpenFormat = "欢迎收听 MindCast，我是%s。接下来的几分钟，我们聊一个我最近一直在琢磨的话题。"

const (
	interruptMinRunes = 20
	interruptMaxRunes = 40
)

// dialogueRun carries the mutable state of one episode's conversation.
type dialogueRun struct {
	o      *Orchestrator
	rl     *runlog.Logger
	emit   func(stage, message string)
	voices map[string]string

	shared        []podcast.ConversationTurn
	lines         []podcast.DialogueLine
	runes         int
	interruptions int
}

// append records a finished line: voice assignment, transcript entry, shared
// history turn, run log event and context trimming happen in one place.
func (d *dialogueRun) append(line podcast.DialogueLine) {
	if voice, ok := d.voices[line.Speaker]; ok {
		line.VoiceID = voice
	}
	d.lines = append(d.lines, line)
	d.runes += len([]rune(line.Text))
	d.shared = append(d.shared, podcast.ConversationTurn{
		Role:    podcast.RoleAssistant,
		Content: fmt.Sprintf("[%s]: %s", line.Speaker, line.Text),
	})
	d.rl.Event("dialogue", "line", map[string]any{
		"speaker": line.Speaker,
		"chars":   len([]rune(line.Text)),
		"emotion": line.Emotion,
	})
	d.emit("dialogue", fmt.Sprintf("%s 发言（累计 %d 字）", line.Speaker, d.runes))
	d.shared = trimContext(d.shared, d.o.cfg.ContextWindowTurns)
}

func (d *dialogueRun) capReached() bool {
	return d.runes >= d.o.cfg.TargetWordCountMax
}

// trimContext keeps every system turn plus the most recent keep non-system
// turns, preserving order. It is a no-op when the history already fits.
func trimContext(turns []podcast.ConversationTurn, keep int) []podcast.ConversationTurn {
	nonSystem := 0
	for _, t := range turns {
		if t.Role != podcast.RoleSystem {
			nonSystem++
		}
	}
	if nonSystem <= keep {
		return turns
	}
	drop := nonSystem - keep
	out := make([]podcast.ConversationTurn, 0, len(turns)-drop)
	for _, t := range turns {
		if t.Role != podcast.RoleSystem && drop > 0 {
			drop--
			continue
		}
		out = append(out, t)
	}
	return out
}

// speakingOrder rotates the guest list so a different guest opens each round.
func speakingOrder(guests []*agent.Guest, round int) []*agent.Guest {
	if len(guests) == 0 {
		return nil
	}
	start := round % len(guests)
	out := make([]*agent.Guest, 0, len(guests))
	out = append(out, guests[start:]...)
	out = append(out, guests[:start]...)
	return out
}

// runDialogue scripts the whole conversation: cold open, host opening, the
// talking-point rounds with rotation and occasional interruptions, the
// pre-closing prompt and guest reflections, and the host's closing.
func (o *Orchestrator) runDialogue(ctx context.Context, rl *runlog.Logger, plan podcast.EpisodePlan,
	guests []*agent.Guest, news []podcast.NewsItem, research []podcast.DetailedInfo,
	ragContext string, voices map[string]string, emit func(stage, message string)) ([]podcast.DialogueLine, error) {

	d := &dialogueRun{o: o, rl: rl, emit: emit, voices: voices}
	d.shared = []podcast.ConversationTurn{{
		Role:    podcast.RoleSystem,
		Content: buildBackgroundBrief(plan, news, research, ragContext, guests),
	}}

	hostName := o.host.Name()
	d.append(podcast.DialogueLine{
		Speaker:    hostName,
		Text:       fmt.Sprintf(coldOpenFormat, hostName),
		SSMLText:   fmt.Sprintf(coldOpenFormat, hostName),
		Emotion:    "calm",
		PauseAfter: 0.6,
	})

	openingInstr := fmt.Sprintf(
		"用这个钩子正式开场并引出今天的话题「%s」：%s。再亮出你当前的态度或困惑：%s。顺口介绍一下今天的嘉宾：%s。",
		plan.Topic, plan.OpeningText(), plan.Opening.Stance, guestNameList(guests))
	line, err := o.host.GenerateLine(ctx, d.shared, openingInstr)
	if err != nil {
		return nil, err
	}
	d.append(line)

	for idx, point := range plan.TalkingPoints {
		if d.capReached() {
			rl.Decision("dialogue", "word cap reached, skipping remaining points", map[string]any{
				"runes": d.runes, "remaining_points": len(plan.TalkingPoints) - idx,
			})
			break
		}

		arc := plan.ArcPosition(idx)
		line, err := o.host.GenerateLine(ctx, d.shared, hostPointInstruction(point, arc))
		if err != nil {
			return nil, err
		}
		d.append(line)

		if err := d.runRound(ctx, plan, guests, point, idx); err != nil {
			return nil, err
		}
		if d.capReached() {
			continue
		}

		if idx < len(plan.TalkingPoints)-1 {
			nextArc := plan.ArcPosition(idx + 1)
			line, err := o.host.GenerateLine(ctx, d.shared, transitionInstruction(plan.TalkingPoints[idx+1], nextArc))
			if err != nil {
				return nil, err
			}
			d.append(line)
		}
	}

	// pre-closing: the host asks for change points, then each guest names
	// what shifted their view tonight
	if len(guests) > 0 {
		preInstr := fmt.Sprintf(
			"节目即将结束。请每位嘉宾说一句话——不是总结，而是：今天的讨论里有没有一个让你改变想法的时刻，或者一个你要带走的具体问题？语气要自然，像朋友聊完想问的那句话。先把话抛给%s。",
			guests[0].Name())
		line, err := o.host.GenerateLine(ctx, d.shared, preInstr)
		if err != nil {
			return nil, err
		}
		d.append(line)
	}
	for _, g := range guests {
		instr := "节目接近尾声。用一两句话说说：今天对话里谁的哪个观点动摇或改变了你原本的看法？要具体到某个点，不要客套。"
		line, err := g.GenerateLine(ctx, d.shared, instr)
		if err != nil {
			return nil, err
		}
		d.append(line)
	}

	line, err = o.host.GenerateLine(ctx, d.shared, closingInstruction(plan))
	if err != nil {
		return nil, err
	}
	d.append(line)

	return d.lines, nil
}

// runRound lets guests speak on one talking point. Only the first two guests
// in the rotated order speak, except on the final point where everyone does.
// An interruption may replace the opening guest's clean delivery.
func (d *dialogueRun) runRound(ctx context.Context, plan podcast.EpisodePlan, guests []*agent.Guest,
	point podcast.TalkingPoint, idx int) error {

	order := speakingOrder(guests, idx)
	if len(order) == 0 {
		// host-only episode: the host carries the point alone
		line, err := d.o.host.GenerateLine(ctx, d.shared,
			fmt.Sprintf("没有嘉宾在场，请你自己把「%s」这个点展开讲透：%s。用自问自答的方式保持节奏。", point.Text, point.DepthHint))
		if err != nil {
			return err
		}
		d.append(line)
		return nil
	}

	speakCount := 2
	lastPoint := idx == len(plan.TalkingPoints)-1
	if lastPoint || speakCount > len(order) {
		speakCount = len(order)
	}

	spoke := make(map[string]struct{})
	if d.shouldInterrupt(idx, order) {
		if err := d.playInterruption(ctx, point, order[0], order[1], spoke); err != nil {
			return err
		}
	}

	for spIdx := 0; spIdx < speakCount; spIdx++ {
		if d.capReached() {
			return nil
		}
		g := order[spIdx]
		if _, done := spoke[g.Name()]; done {
			continue
		}
		instr := guestInstruction(point, spIdx, previousGuest(order, spIdx, spoke), g)
		line, err := g.GenerateLine(ctx, d.shared, instr)
		if err != nil {
			return err
		}
		d.append(line)
		spoke[g.Name()] = struct{}{}
	}
	return nil
}

// shouldInterrupt rolls for an interruption: never on the opening point,
// never with a single guest, capped per episode.
func (d *dialogueRun) shouldInterrupt(idx int, order []*agent.Guest) bool {
	if idx == 0 || len(order) < 2 {
		return false
	}
	if d.interruptions >= d.o.cfg.MaxInterruptions {
		return false
	}
	return d.o.rng.Float64() < d.o.cfg.InterruptionProbability
}

// playInterruption scripts the three-line sequence: the victim's sentence cut
// short mid-thought, the interrupter jumping in, and the victim picking the
// thread back up. Both participants count as having spoken this round.
func (d *dialogueRun) playInterruption(ctx context.Context, point podcast.TalkingPoint,
	victim, interrupter *agent.Guest, spoke map[string]struct{}) error {

	full, err := victim.GenerateLine(ctx, d.shared,
		fmt.Sprintf("就「%s」展开你的观点，结合你的实际经历，讲得具体一点：%s", point.Text, point.DepthHint))
	if err != nil {
		return err
	}
	cut := interruptMinRunes + d.o.rng.Intn(interruptMaxRunes-interruptMinRunes+1)
	truncated := full
	if runes := []rune(full.Text); len(runes) > cut {
		truncated.Text = string(runes[:cut]) + "——"
		truncated.SSMLText = truncated.Text
	} else {
		truncated.Text += "——"
		truncated.SSMLText = truncated.Text
	}
	truncated.PauseAfter = 0.1
	d.append(truncated)

	cutIn, err := interrupter.GenerateLine(ctx, d.shared,
		fmt.Sprintf("你忍不住打断了%s。先用一句类似「等等，我必须插一句」的话切入，然后立刻说出你急着反驳或补充的点。语气要急，但不失礼。", victim.Name()))
	if err != nil {
		return err
	}
	cutIn.PauseBefore = 0
	d.append(cutIn)

	resume, err := victim.GenerateLine(ctx, d.shared,
		fmt.Sprintf("你刚才被%s打断了。先简短回应对方的点，再接着把你没说完的观点讲完。可以带一点无奈或笑意。", interrupter.Name()))
	if err != nil {
		return err
	}
	d.append(resume)

	d.interruptions++
	spoke[victim.Name()] = struct{}{}
	spoke[interrupter.Name()] = struct{}{}
	d.rl.Decision("dialogue", "interruption played", map[string]any{
		"victim":      victim.Name(),
		"interrupter": interrupter.Name(),
		"total":       d.interruptions,
	})
	return nil
}

// previousGuest finds the most recent earlier speaker in this round's order,
// so a follow-up guest knows whose stance to push against.
func previousGuest(order []*agent.Guest, spIdx int, spoke map[string]struct{}) *agent.Guest {
	for i := spIdx - 1; i >= 0; i-- {
		if _, ok := spoke[order[i].Name()]; ok {
			return order[i]
		}
	}
	if spIdx > 0 {
		return order[spIdx-1]
	}
	return nil
}

func hostPointInstruction(point podcast.TalkingPoint, arc string) string {
	base := fmt.Sprintf("引出下一个讨论点：「%s」。", point.Text)
	switch arc {
	case podcast.ArcExposition:
		return base + fmt.Sprintf("这是开局铺垫：先把背景交代清楚，让完全没跟这条新闻的听众也能进入状态。可以从这个方向挖：%s。", point.DepthHint)
	case podcast.ArcClimax:
		return base + fmt.Sprintf("这是全场最有张力的点：直接把矛盾挑明——%s。逼嘉宾选边站，不许和稀泥。", point.ConflictSetup)
	case podcast.ArcFallingAction:
		return base + "讨论进入收束段：语气放缓，引导大家从争论转向沉淀，聊聊这件事对普通人真正意味着什么。"
	default:
		return base + fmt.Sprintf("推进讨论的势能：在上一轮的基础上把问题推深一层，%s。点名让嘉宾给出具体案例。", point.DepthHint)
	}
}

func closingInstruction(plan podcast.EpisodePlan) string {
	return fmt.Sprintf("收尾这期节目。%s。把问题抛给听众，用一句话讲出你自己今晚带走的判断，最后自然地告别。", plan.ClosingText())
}

func transitionInstruction(next podcast.TalkingPoint, nextArc string) string {
	switch nextArc {
	case podcast.ArcClimax:
		return fmt.Sprintf("做一个升温的过渡：承接刚才的讨论，预告接下来要碰最硬的问题——「%s」。制造一点悬念。", next.Text)
	case podcast.ArcFallingAction:
		return fmt.Sprintf("做一个降温的过渡：给刚才的交锋一句小结，然后把话题引向「%s」，语气从辩论转回聊天。", next.Text)
	default:
		return fmt.Sprintf("自然过渡到下一个点「%s」：可以借刚才某位嘉宾的一句话顺势引出，不要生硬报幕。", next.Text)
	}
}

// guestInstruction asks the round's first speaker to ground the point in
// lived experience; later speakers position against the previous speaker's
// stance, pushing back when their biases genuinely differ.
func guestInstruction(point podcast.TalkingPoint, spIdx int, prev *agent.Guest, g *agent.Guest) string {
	if spIdx == 0 || prev == nil {
		return fmt.Sprintf("就「%s」展开你的观点，结合你的实际经历，讲得具体一点：%s", point.Text, point.DepthHint)
	}
	if prev.Persona().StanceBias != g.Persona().StanceBias {
		return fmt.Sprintf("%s刚才表达了他的看法。你的立场和他不同——先点出他观点里你不买账的那个点，再给出你自己的判断和依据。围绕「%s」。", prev.Name(), point.Text)
	}
	return fmt.Sprintf("顺着%s的思路再往前推一步：补充一个他没提到的角度或案例，让「%s」这个点更立体。", prev.Name(), point.Text)
}

func guestNameList(guests []*agent.Guest) string {
	names := make([]string, len(guests))
	for i, g := range guests {
		names[i] = g.Name()
	}
	if len(names) == 0 {
		return "今天没有嘉宾，是主持人的独角戏"
	}
	return strings.Join(names, "、")
}

// buildBackgroundBrief is the shared system context every speaker sees: the
// outline, tonight's guests, the news digest and the research takeaways.
func buildBackgroundBrief(plan podcast.EpisodePlan, news []podcast.NewsItem,
	research []podcast.DetailedInfo, ragContext string, guests []*agent.Guest) string {

	var sb strings.Builder
	sb.WriteString("【本期节目背景资料（所有发言都要基于这些信息，不要编造事实）】\n\n")
	fmt.Fprintf(&sb, "节目主题：%s\n节目梗概：%s\n", plan.Topic, plan.Summary)
	if plan.UnexpectedAngle != "" {
		fmt.Fprintf(&sb, "隐藏切入角度：%s\n", plan.UnexpectedAngle)
	}
	fmt.Fprintf(&sb, "今晚嘉宾：%s\n\n", guestNameList(guests))

	sb.WriteString("讨论脉络：\n")
	for i, p := range plan.TalkingPoints {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, p.Text)
	}

	if len(plan.KeyQuestions) > 0 {
		sb.WriteString("\n贯穿全场的关键问题：\n")
		for _, q := range plan.KeyQuestions {
			fmt.Fprintf(&sb, "- %s\n", q)
		}
	}

	if len(news) > 0 {
		sb.WriteString("\n相关资讯：\n")
		for i, item := range news {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&sb, "- %s：%s\n", item.Title, podcast.TruncateRunes(item.Content, 150))
		}
	}
	if len(research) > 0 {
		sb.WriteString("\n深度研究摘要：\n")
		for _, info := range research {
			fmt.Fprintf(&sb, "【%s】%s\n", info.Query, podcast.TruncateRunes(info.Answer, 400))
		}
	}
	if ragContext != "" {
		sb.WriteString("\n节目知识库：\n" + ragContext + "\n")
	}
	return sb.String()
}
