// Package catalog holds the static database of recommendable mobile plans and
// builds the advisor system prompt from it.
package catalog

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Plan describes one mobile plan offering.
type Plan struct {
	Name     string   `json:"name"`
	Data     string   `json:"data"`
	Call     string   `json:"call"`
	Price    int      `json:"price"`
	Features []string `json:"features"`
}

// plans is the static offering catalog. Order is the display order.
var plans = []Plan{
	{
		Name:     "5G 프리미엄",
		Data:     "무제한",
		Call:     "무제한",
		Price:    89000,
		Features: []string{"고화질 스트리밍", "5G 속도", "해외 로밍 포함"},
	},
	{
		Name:     "5G 스탠다드",
		Data:     "110GB",
		Call:     "무제한",
		Price:    69000,
		Features: []string{"5G 속도", "초과 시 3Mbps"},
	},
	{
		Name:     "LTE 베이직",
		Data:     "10GB",
		Call:     "200분",
		Price:    35000,
		Features: []string{"LTE 속도", "문자 무제한"},
	},
	{
		Name:     "데이터 중심형",
		Data:     "50GB",
		Call:     "100분",
		Price:    45000,
		Features: []string{"영상 스트리밍 최적화", "SNS 무제한"},
	},
}

// Plans returns the offering catalog. The returned slice is a copy; callers
// may not mutate the catalog.
func Plans() []Plan {
	out := make([]Plan, len(plans))
	copy(out, plans)
	return out
}

const promptTemplate = `당신은 친절한 통신사 요금제 추천 전문가입니다.
사용자의 통신 사용 패턴과 요구사항을 분석하여 최적의 요금제를 추천해주세요.

사용 가능한 요금제 정보:
%s

추천 시 고려사항:
1. 사용자의 데이터 사용량 (영상 시청, SNS, 웹서핑 등)
2. 통화 사용량
3. 예산
4. 특별한 요구사항 (해외 로밍, 가족 결합 등)

자연스럽고 친근한 톤으로 대화하며, 추천 이유를 명확히 설명해주세요.`

var (
	promptOnce sync.Once
	prompt     string
)

// SystemPrompt returns the fixed system instruction for the advisor,
// rendered once from the plan catalog.
func SystemPrompt() string {
	promptOnce.Do(func() {
		// The catalog is static and marshals cleanly; a failure here is a
		// programming error, not a runtime condition.
		data, err := json.MarshalIndent(plans, "", "  ")
		if err != nil {
			panic(fmt.Sprintf("catalog: marshal plans: %v", err))
		}
		prompt = fmt.Sprintf(promptTemplate, data)
	})
	return prompt
}
