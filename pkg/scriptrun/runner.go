package scriptrun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Runner 外部脚本执行器（合规性检查等使用 PowerShell 脚本）
type Runner struct {
	enabled     bool
	interpreter string
	scriptDir   string
	logger      *logrus.Logger
}

// Interface 定义编排器使用的脚本执行能力
type Interface interface {
	Run(ctx context.Context, scriptName string, params map[string]string) (*Result, error)
	Enabled() bool
}

// Result 一次脚本执行的结果
// Parsed 仅在 stdout 是合法 JSON 时填充；否则调用方使用原始 Stdout。
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Parsed   map[string]interface{}
}

type Config struct {
	Enabled         bool
	InterpreterPath string
	ScriptDir       string
}

// New 创建脚本执行器
func New(config *Config, logger *logrus.Logger) *Runner {
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Runner{
		enabled:     config.Enabled,
		interpreter: config.InterpreterPath,
		scriptDir:   config.ScriptDir,
		logger:      logger,
	}
}

func (r *Runner) Enabled() bool {
	return r.enabled
}

// Run 执行指定脚本。超时通过 ctx 控制：超时后进程被终止并返回 ctx 错误。
func (r *Runner) Run(ctx context.Context, scriptName string, params map[string]string) (*Result, error) {
	if !r.enabled {
		return nil, fmt.Errorf("script execution is disabled")
	}
	if scriptName == "" {
		return nil, fmt.Errorf("script name is required")
	}
	// 防止路径穿越：脚本名不允许包含分隔符
	if strings.ContainsAny(scriptName, "/\\") {
		return nil, fmt.Errorf("invalid script name: %s", scriptName)
	}

	scriptPath := filepath.Join(r.scriptDir, scriptName)
	args := []string{"-ExecutionPolicy", "Bypass", "-File", scriptPath}

	// 参数按键排序，保证命令行稳定
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if params[k] == "" {
			continue
		}
		args = append(args, "-"+k, params[k])
	}

	cmd := exec.CommandContext(ctx, r.interpreter, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Infof("scriptrun: executing %s", scriptName)

	err := cmd.Run()
	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if ctx.Err() != nil {
		return result, fmt.Errorf("script %s timed out: %w", scriptName, ctx.Err())
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, fmt.Errorf("script %s exited with code %d: %s", scriptName, result.ExitCode, result.Stderr)
		}
		return result, fmt.Errorf("script %s failed to start: %w", scriptName, err)
	}

	// stdout 可能是结构化 JSON：解析失败不是错误，回退为原始文本
	var parsed map[string]interface{}
	if json.Unmarshal(stdout.Bytes(), &parsed) == nil {
		result.Parsed = parsed
	}

	return result, nil
}
