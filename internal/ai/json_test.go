package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateJSONResponseInvalidJSONIsNil(t *testing.T) {
	got := GenerateJSONResponse[KpiSuggestionResult](context.Background(), jsonReturning("Xin lỗi, tôi không thể trả lời.", nil), "p", nil)
	assert.Nil(t, got)
}

func TestGenerateJSONResponseTransportErrorIsNil(t *testing.T) {
	got := GenerateJSONResponse[KpiSuggestionResult](context.Background(), jsonReturning("", errors.New("503")), "p", nil)
	assert.Nil(t, got)
}

func TestGenerateJSONResponseFencedPayload(t *testing.T) {
	raw := "Here you go:\n```json\n{\"kpis\":[{\"code\":\"K1\",\"description\":\"Doanh thu {quý}\",\"unit\":\"VND\",\"baseline\":0,\"target\":100}]}\n```\nDone."
	got := GenerateJSONResponse[KpiSuggestionResult](context.Background(), jsonReturning(raw, nil), "p", nil)
	require.NotNil(t, got)
	require.Len(t, got.KPIs, 1)
	assert.Equal(t, "Doanh thu {quý}", got.KPIs[0].Description)
	assert.Equal(t, 100.0, got.KPIs[0].Target)
}

func TestExpectKeepsFailure(t *testing.T) {
	outcome := Expect[TaskSuggestionResult](context.Background(), jsonReturning(`{"tasks":[]}`, nil), "suggest tasks", "p", nil)
	assert.False(t, outcome.OK())
	assert.Nil(t, outcome.Value)
	require.NotNil(t, outcome.Failure)
	assert.Equal(t, "suggest tasks", outcome.Failure.Operation)
	assert.Equal(t, "no tasks suggested", outcome.Failure.Reason)
	assert.Equal(t, `{"tasks":[]}`, outcome.Failure.Raw)
}

func TestExpectCollaboratorError(t *testing.T) {
	outcome := Expect[TaskSuggestionResult](context.Background(), jsonReturning("", ErrNoAPIKey), "suggest tasks", "p", nil)
	assert.ErrorIs(t, outcome.Err, ErrNoAPIKey)
	assert.Nil(t, outcome.Failure)
	assert.Nil(t, outcome.Value)
}

func TestExpectPassesFiles(t *testing.T) {
	var seen []File
	c := fakeCollaborator{json: func(_ string, files []File) (string, error) {
		seen = files
		return `{"tasks":[{"code":"A1","name":"Tuyển dụng"}]}`, nil
	}}
	files := []File{{Name: "org.pdf", MimeType: "application/pdf", Data: []byte("%PDF")}}
	outcome := Expect[TaskSuggestionResult](context.Background(), c, "suggest tasks", "p", files)
	require.True(t, outcome.OK())
	assert.Equal(t, files, seen)
	assert.Equal(t, "Tuyển dụng", outcome.Value.Tasks[0].Name)
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                          `{"a":1}`,
		"prefix {\"a\":{\"b\":2}} suffix":  `{"a":{"b":2}}`,
		`[1,2,3] trailing`:                 `[1,2,3]`,
		`{"s":"brace } inside"}`:           `{"s":"brace } inside"}`,
		`{"s":"quote \" then }"}`:          `{"s":"quote \" then }"}`,
		"```\n{\"x\":true}\n```":           `{"x":true}`,
		"no json here":                     "",
		`{"unterminated": [1, 2`:           "",
	}
	for input, want := range cases {
		assert.Equal(t, want, ExtractJSON(input), input)
	}
}

func TestStrategyFactorValidateNormalisesImpact(t *testing.T) {
	outcome := Decode[StrategyFactorResult]("factor", `{"factor":"Kinh tế","summary":"Lãi suất giảm","impact":" HIGH "}`)
	require.True(t, outcome.OK())
	assert.Equal(t, "high", outcome.Value.Impact)

	outcome = Decode[StrategyFactorResult]("factor", `{"factor":"Kinh tế","summary":"x","impact":"extreme"}`)
	require.NotNil(t, outcome.Failure)
	assert.Contains(t, outcome.Failure.Reason, "extreme")

	outcome = Decode[StrategyFactorResult]("factor", `{"factor":"Kinh tế","summary":"x"}`)
	require.True(t, outcome.OK())
	assert.Equal(t, "medium", outcome.Value.Impact)
}
