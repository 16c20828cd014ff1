package services

import (
	"regexp"
	"strings"

	"resolvify/internal/models"

	"github.com/sirupsen/logrus"
)

// ClassificationResult 分类结果
type ClassificationResult struct {
	Category       string  `json:"category"`
	Confidence     float64 `json:"confidence"`
	Priority       string  `json:"priority"`
	CanAutoResolve bool    `json:"can_auto_resolve"`
}

// Classifier 工单分类器接口
// 规则分类器是默认实现；将来可替换为训练好的统计模型，
// 只要保持同样的输入输出，编排器无需改动。
type Classifier interface {
	Classify(subject, description string) ClassificationResult
	ExtractAffectedUser(subject, description, requesterEmail string) string
}

// 规则匹配按顺序评估，第一个命中的类别生效
type categoryPatterns struct {
	category string
	patterns []*regexp.Regexp
}

type priorityKeywords struct {
	priority string
	keywords []string
}

// RuleClassifier 基于规则的工单分类器
type RuleClassifier struct {
	logger     *logrus.Logger
	threshold  float64
	categories []categoryPatterns
	priorities []priorityKeywords
	emailRe    *regexp.Regexp
	userRes    []*regexp.Regexp
}

const (
	// 规则命中时的固定置信度；未命中回退到 OTHER 低置信度
	ruleMatchConfidence = 0.95
	noMatchConfidence   = 0.3
)

// 可自动处理的类别集合
var autoResolvableCategories = map[string]bool{
	models.CategoryPasswordReset:    true,
	models.CategoryAccountUnlock:    true,
	models.CategoryVPNIssue:         true,
	models.CategoryDeviceCompliance: true,
}

// NewRuleClassifier 创建规则分类器
func NewRuleClassifier(threshold float64, logger *logrus.Logger) *RuleClassifier {
	if logger == nil {
		logger = logrus.New()
	}
	if threshold <= 0 {
		threshold = 0.8
	}

	compile := func(exprs ...string) []*regexp.Regexp {
		out := make([]*regexp.Regexp, 0, len(exprs))
		for _, e := range exprs {
			out = append(out, regexp.MustCompile(e))
		}
		return out
	}

	return &RuleClassifier{
		logger:    logger,
		threshold: threshold,
		categories: []categoryPatterns{
			{models.CategoryPasswordReset, compile(
				`password\s+(reset|change|forgot|forgotten|expired)`,
				`(reset|change|forgot|forgotten)\s+password`,
				`can't\s+(login|log\s+in|sign\s+in)`,
				`locked\s+out`,
				`password\s+doesn't\s+work`,
			)},
			{models.CategoryAccountUnlock, compile(
				`account\s+(locked|disabled|suspended)`,
				`unlock\s+account`,
				`(locked|disabled)\s+account`,
				`too\s+many\s+(login\s+)?attempts`,
			)},
			{models.CategoryVPNIssue, compile(
				`vpn\s+(not\s+working|connection|issue|problem|error)`,
				`(can't|cannot)\s+connect\s+to\s+vpn`,
				`vpn\s+(disconnected|timeout)`,
				`remote\s+access\s+(issue|problem|not\s+working)`,
			)},
			{models.CategoryAccessRequest, compile(
				`(need|request|require)\s+(access|permission)`,
				`access\s+to\s+\w+`,
				`permission\s+(denied|required)`,
				`(grant|give|provide)\s+(access|permission)`,
				`add\s+(me\s+)?to\s+group`,
			)},
			{models.CategoryDeviceCompliance, compile(
				`device\s+(compliance|not\s+compliant|out\s+of\s+date)`,
				`(security\s+)?patch(es)?\s+(needed|required|missing)`,
				`(update|updates)\s+(needed|required|available)`,
				`antivirus\s+(out\s+of\s+date|not\s+updated)`,
				`device\s+health\s+check`,
			)},
			{models.CategoryEmailIssue, compile(
				`email\s+(not\s+working|issue|problem)`,
				`(can't|cannot)\s+(send|receive)\s+email`,
				`outlook\s+(issue|problem|not\s+working)`,
				`mailbox\s+(full|quota)`,
			)},
		},
		priorities: []priorityKeywords{
			{models.PriorityCritical, []string{"critical", "urgent", "emergency", "down", "outage", "cannot work"}},
			{models.PriorityHigh, []string{"high priority", "asap", "important", "blocking"}},
			{models.PriorityMedium, []string{"medium", "normal"}},
			{models.PriorityLow, []string{"low priority", "when possible", "minor"}},
		},
		emailRe: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		userRes: compile(
			`for\s+user\s+(\w+)`,
			`user\s+(\w+)`,
			`for\s+(\w+@\w+)`,
		),
	}
}

// Classify 对工单做规则分类并确定优先级
// 永不失败：无匹配时退化为 OTHER/低置信度。
func (c *RuleClassifier) Classify(subject, description string) ClassificationResult {
	text := strings.ToLower(subject + " " + description)

	category, confidence := c.matchCategory(text)
	priority := c.matchPriority(text)

	return ClassificationResult{
		Category:       category,
		Confidence:     confidence,
		Priority:       priority,
		CanAutoResolve: confidence >= c.threshold && autoResolvableCategories[category],
	}
}

func (c *RuleClassifier) matchCategory(text string) (string, float64) {
	for _, cp := range c.categories {
		for _, re := range cp.patterns {
			if re.MatchString(text) {
				return cp.category, ruleMatchConfidence
			}
		}
	}
	return models.CategoryOther, noMatchConfidence
}

func (c *RuleClassifier) matchPriority(text string) string {
	for _, pk := range c.priorities {
		for _, kw := range pk.keywords {
			if strings.Contains(text, kw) {
				return pk.priority
			}
		}
	}
	return models.PriorityMedium
}

// ExtractAffectedUser 从工单文本中提取受影响用户
// 尽力而为的文本提取，不做目录校验；找不到时回退到请求者本人。
func (c *RuleClassifier) ExtractAffectedUser(subject, description, requesterEmail string) string {
	text := strings.ToLower(subject + " " + description)

	for _, email := range c.emailRe.FindAllString(text, -1) {
		if !strings.EqualFold(email, requesterEmail) {
			return email
		}
	}

	for _, re := range c.userRes {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			return m[1]
		}
	}

	return requesterEmail
}
