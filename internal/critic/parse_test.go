package critic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQWhy(t *testing.T) {
	t.Run("pairs questions with their why", func(t *testing.T) {
		raw := "Q: 这个论证的前提是什么？\nWhy: 前提没有写明，读者会困惑。\n\nQ: 第二段和第一段矛盾吗\nWhy: 两段的时间线对不上。"
		items := ParseQWhy(raw, 3)
		require.Len(t, items, 2)
		assert.Equal(t, "这个论证的前提是什么？", items[0].Question)
		assert.Equal(t, "前提没有写明，读者会困惑。", items[0].Why)
		assert.Equal(t, "第二段和第一段矛盾吗?", items[1].Question, "missing question mark gets appended")
	})

	t.Run("minimal pair", func(t *testing.T) {
		items := ParseQWhy("Q: 为什么？\nWhy: 测试", 3)
		require.Len(t, items, 1)
		assert.Equal(t, "为什么？", items[0].Question)
		assert.Equal(t, "测试", items[0].Why)
	})

	t.Run("why scan stops at next question", func(t *testing.T) {
		raw := "Q: 第一个问题？\nQ: 第二个问题？\nWhy: 只属于第二个。"
		items := ParseQWhy(raw, 3)
		require.Len(t, items, 2)
		assert.Empty(t, items[0].Why)
		assert.Equal(t, "只属于第二个。", items[1].Why)
	})

	t.Run("why beyond the scan window is dropped", func(t *testing.T) {
		raw := "Q: 问题？\n一\n二\n三\n四\n五\nWhy: 太远了。"
		items := ParseQWhy(raw, 3)
		require.Len(t, items, 1)
		assert.Empty(t, items[0].Why)
	})

	t.Run("respects max", func(t *testing.T) {
		raw := "Q: 一？\nQ: 二？\nQ: 三？\nQ: 四？"
		assert.Len(t, ParseQWhy(raw, 2), 2)
	})

	t.Run("case-insensitive markers", func(t *testing.T) {
		items := ParseQWhy("q: 小写的问题？\nwhy: 小写的理由。", 3)
		require.Len(t, items, 1)
		assert.Equal(t, "小写的问题？", items[0].Question)
	})
}

func TestParseItems(t *testing.T) {
	t.Run("json payload preferred", func(t *testing.T) {
		raw := `{"items":[{"type":"logical","severity":"high","confidence":0.9,"question":"论点站得住吗","why":"缺证据"}]}`
		items := ParseItems(raw, 3)
		require.Len(t, items, 1)
		assert.Equal(t, "logical", items[0].Type)
		assert.Equal(t, "high", items[0].Severity)
		assert.Equal(t, 0.9, items[0].Confidence)
		assert.Equal(t, "论点站得住吗?", items[0].Question)
		assert.Equal(t, ItemStatusOpen, items[0].Status)
	})

	t.Run("bare json array accepted", func(t *testing.T) {
		raw := `[{"question":"第一问？"},{"question":"第二问？"}]`
		assert.Len(t, ParseItems(raw, 3), 2)
	})

	t.Run("confidence clamped", func(t *testing.T) {
		raw := `{"items":[{"question":"问？","confidence":3.5}]}`
		items := ParseItems(raw, 3)
		require.Len(t, items, 1)
		assert.Equal(t, 1.0, items[0].Confidence)
	})

	t.Run("q-why lines", func(t *testing.T) {
		items := ParseItems("Q: 为什么？\nWhy: 测试", 3)
		require.Len(t, items, 1)
		assert.Equal(t, "为什么？", items[0].Question)
	})

	t.Run("free text degrades to sentences", func(t *testing.T) {
		items := ParseItems("这里的因果关系清楚吗。论据充分吗", 3)
		require.Len(t, items, 2)
		assert.Equal(t, "这里的因果关系清楚吗?", items[0].Question)
	})

	t.Run("defaults applied", func(t *testing.T) {
		items := ParseItems("Q: 问题？", 3)
		require.Len(t, items, 1)
		assert.Equal(t, "conceptual", items[0].Type)
		assert.Equal(t, "med", items[0].Severity)
		assert.Equal(t, 0.6, items[0].Confidence)
		assert.NotEmpty(t, items[0].ID)
	})

	t.Run("empty output yields zero items", func(t *testing.T) {
		assert.Empty(t, ParseItems("", 3))
		assert.Empty(t, ParseItems("   \n  ", 3))
	})
}
