package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"HeadlineBot/internal/domain"
)

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	summary := &domain.BatchSummary{Results: []domain.ItemResult{
		{Key: "https://a.example/1", Outcome: domain.OutcomeSucceeded},
		{Key: "Example Feed", Outcome: domain.OutcomeFailed, Reason: "timeout"},
	}}

	err := printResult(&buf, domain.TriggerResult{Success: true, Message: "ingest: 1 succeeded, 1 failed, 0 skipped", Summary: summary})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "ok: ingest: 1 succeeded")
	assert.Contains(t, buf.String(), "Example Feed  timeout")
	assert.NotContains(t, buf.String(), "https://a.example/1")

	buf.Reset()
	err = printResult(&buf, domain.TriggerResult{Message: "queued: minimum spacing"})
	assert.ErrorIs(t, err, errNotSucceeded)
	assert.Contains(t, buf.String(), "not done: queued")
}

func TestPrintQueueJSON(t *testing.T) {
	jsonOutput = true
	t.Cleanup(func() { jsonOutput = false })

	at := time.Date(2026, time.March, 10, 7, 15, 0, 0, time.UTC)
	var buf bytes.Buffer
	printQueue(&buf, []domain.PublicationTask{{ID: "t1", ScheduledFor: at, Status: domain.StatusScheduled, Text: "a\nb"}})

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "t1", decoded[0]["id"])
	assert.Equal(t, "2026-03-10T07:15:00Z", decoded[0]["scheduled_for"])
}

func TestPrintQueueAndStatsText(t *testing.T) {
	at := time.Date(2026, time.March, 10, 7, 15, 0, 0, time.UTC)

	var buf bytes.Buffer
	printQueue(&buf, nil)
	assert.Equal(t, "queue is empty\n", buf.String())

	buf.Reset()
	printQueue(&buf, []domain.PublicationTask{{ID: "t1", ScheduledFor: at, Status: domain.StatusScheduled, Text: "first line\nsecond"}})
	assert.Contains(t, buf.String(), "2026-03-10T07:15:00Z")
	assert.Contains(t, buf.String(), "first line")
	assert.NotContains(t, buf.String(), "second")

	buf.Reset()
	printStats(&buf, domain.Stats{PostsLast24h: 2, LastPostedAt: &at})
	assert.Equal(t, "posts in last 24h: 2\nlast post: 2026-03-10T07:15:00Z\n", buf.String())
}

func TestPrintItems(t *testing.T) {
	at := time.Date(2026, time.March, 10, 6, 0, 0, 0, time.UTC)
	items := []domain.StoredItem{
		{ID: "id-1", Item: domain.IngestedItem{Title: "Starmer faces revolt", Source: "BBC"}, SentimentScore: -0.72, IngestedAt: at},
		{ID: "id-2", Item: domain.IngestedItem{Title: "Cabinet split", Source: "Guardian"}, SentimentScore: -0.4, IngestedAt: at, Posted: true},
	}

	var buf bytes.Buffer
	printItems(&buf, nil)
	assert.Equal(t, "no items\n", buf.String())

	buf.Reset()
	printItems(&buf, items)
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[1]), "id-1")
	assert.Contains(t, string(lines[1]), "-0.72")
	assert.Contains(t, string(lines[1]), "Starmer faces revolt")
	assert.Contains(t, string(lines[2]), "yes")

	jsonOutput = true
	t.Cleanup(func() { jsonOutput = false })
	buf.Reset()
	printItems(&buf, items)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "id-2", decoded[1]["id"])
	assert.Equal(t, true, decoded[1]["posted"])
}

func TestPostAndItemsFlags(t *testing.T) {
	post := postCmd()
	require.NoError(t, post.ParseFlags([]string{"-m", "A second thought"}))
	comment, err := post.Flags().GetString("comment")
	require.NoError(t, err)
	assert.Equal(t, "A second thought", comment)
	assert.Error(t, post.Args(post, nil), "post needs an item id or url")

	items := itemsCmd()
	require.NoError(t, items.ParseFlags([]string{"--unposted", "-n", "5"}))
	limit, err := items.Flags().GetInt("limit")
	require.NoError(t, err)
	assert.Equal(t, 5, limit)
	unposted, err := items.Flags().GetBool("unposted")
	require.NoError(t, err)
	assert.True(t, unposted)
}
