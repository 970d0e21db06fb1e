package podcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlan(t *testing.T) {
	t.Run("full object form", func(t *testing.T) {
		data := []byte(`{
			"topic": "大模型价格战：谁先扛不住",
			"summary": "三位嘉宾聊聊价格战的底层逻辑",
			"opening": {"hook": "一夜之间全线降价九成", "stance": "我怀疑这不是好事"},
			"talking_points": [
				{"text": "降价的真实动机", "depth_hint": "成本结构", "conflict_setup": "烧钱还是技术红利"},
				{"text": "小厂商怎么活"},
				{"text": "用户真的受益吗", "example_needed": "API账单对比"},
				{"text": "终局推演"}
			],
			"closing": {"question": "你愿意为AI付多少钱？", "takeaway": "免费的才是最贵的"},
			"unexpected_angle": "降价其实是清场信号",
			"climax_index": 2
		}`)
		plan, err := ParsePlan(data)
		require.NoError(t, err)
		assert.Equal(t, "大模型价格战：谁先扛不住", plan.Topic)
		assert.Len(t, plan.TalkingPoints, 4)
		assert.Equal(t, "成本结构", plan.TalkingPoints[0].DepthHint)
		assert.Equal(t, 2, plan.ClimaxIndex)
		assert.Equal(t, "一夜之间全线降价九成", plan.Opening.Hook)
		assert.Equal(t, "免费的才是最贵的", plan.Closing.Takeaway)
	})

	t.Run("loose string forms", func(t *testing.T) {
		data := []byte(`{
			"topic": "t",
			"opening": "直接一句开场",
			"closing": "直接一个问题",
			"talking_points": ["要点一", "要点二", "要点三", "  "]
		}`)
		plan, err := ParsePlan(data)
		require.NoError(t, err)
		assert.Equal(t, "直接一句开场", plan.Opening.Hook)
		assert.Equal(t, "直接一个问题", plan.Closing.Question)
		// blank string point is dropped, leaving exactly three
		assert.Len(t, plan.TalkingPoints, 3)
	})

	t.Run("invalid json errors", func(t *testing.T) {
		_, err := ParsePlan([]byte("not json"))
		assert.Error(t, err)
	})
}

func TestEpisodePlanNormalize(t *testing.T) {
	t.Run("pads up to minimum", func(t *testing.T) {
		plan := EpisodePlan{TalkingPoints: []TalkingPoint{{Text: "唯一要点"}}}
		plan.Normalize()
		assert.Len(t, plan.TalkingPoints, MinTalkingPoints)
		assert.Equal(t, "唯一要点", plan.TalkingPoints[0].Text)
		for _, tp := range plan.TalkingPoints {
			assert.NotEmpty(t, tp.Text)
		}
	})

	t.Run("truncates above maximum", func(t *testing.T) {
		points := make([]TalkingPoint, 8)
		for i := range points {
			points[i] = TalkingPoint{Text: "p"}
		}
		plan := EpisodePlan{TalkingPoints: points, ClimaxIndex: 7}
		plan.Normalize()
		assert.Len(t, plan.TalkingPoints, MaxTalkingPoints)
		// climax index now out of range, clamped to second-to-last
		assert.Equal(t, MaxTalkingPoints-2, plan.ClimaxIndex)
	})

	t.Run("empty plan gets a full generic outline", func(t *testing.T) {
		plan := EpisodePlan{}
		plan.Normalize()
		assert.GreaterOrEqual(t, len(plan.TalkingPoints), MinTalkingPoints)
		assert.LessOrEqual(t, len(plan.TalkingPoints), MaxTalkingPoints)
		assert.NotEmpty(t, plan.UnexpectedAngle)
		assert.Equal(t, len(plan.TalkingPoints)-2, plan.ClimaxIndex)
	})

	t.Run("valid climax index survives", func(t *testing.T) {
		plan := EpisodePlan{
			TalkingPoints: []TalkingPoint{{Text: "a"}, {Text: "b"}, {Text: "c"}, {Text: "d"}, {Text: "e"}},
			ClimaxIndex:   2,
		}
		plan.Normalize()
		assert.Equal(t, 2, plan.ClimaxIndex)
	})
}

func TestEpisodePlanArcPosition(t *testing.T) {
	plan := EpisodePlan{
		TalkingPoints: []TalkingPoint{{Text: "a"}, {Text: "b"}, {Text: "c"}, {Text: "d"}, {Text: "e"}},
		ClimaxIndex:   3,
	}
	plan.Normalize()

	assert.Equal(t, ArcExposition, plan.ArcPosition(0))
	assert.Equal(t, ArcRisingAction, plan.ArcPosition(1))
	assert.Equal(t, ArcRisingAction, plan.ArcPosition(2))
	assert.Equal(t, ArcClimax, plan.ArcPosition(3))
	assert.Equal(t, ArcFallingAction, plan.ArcPosition(4))
}

func TestEpisodePlanText(t *testing.T) {
	plan := EpisodePlan{
		Opening: Opening{Hook: "h", Stance: "s"},
		Closing: Closing{Question: "q"},
	}
	assert.Contains(t, plan.OpeningText(), "h")
	assert.Contains(t, plan.OpeningText(), "s")
	assert.Contains(t, plan.ClosingText(), "q")
	assert.NotContains(t, plan.ClosingText(), "主持人想带走的")
}
