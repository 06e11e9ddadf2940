package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/ini.v1"

	"nodesieve/internal/shared/types"
)

var validate = validator.New()

// Default 返回所有字段的默认值，ini 文件中出现的键会覆盖它们。
func Default() *types.Config {
	return &types.Config{
		CommonConf: types.CommonConf{Mode: "once", IntervalMinutes: 360},
		LogConf:    types.LogConf{Level: "info"},
		FetchConf: types.FetchConf{
			SubscriptionsFile: "subscriptions.json",
			TimeoutSec:        20,
			MaxBytes:          8 << 20,
			MaxRedirects:      5,
			UserAgent:         "ClashForAndroid/2.5.12",
		},
		DNSConf: types.DNSConf{
			TimeoutMS:   2000,
			CacheSize:   4096,
			CacheTTLSec: 600,
			Concurrency: 32,
		},
		ProbeConf: types.ProbeConf{
			Concurrency:        32,
			HandshakeTimeoutMS: 2000,
			RequestTimeoutMS:   5000,
			PhaseTimeoutSec:    600,
			Retries:            1,
			RetryDelayMS:       500,
			TestURL:            "https://dldir1.qq.com/weixin/Windows/WeChatSetup.exe",
			SampleBytes:        4 << 20,
			MaxLatencyMS:       200,
			MinThroughputMBps:  8,
		},
		RankConf: types.RankConf{TopN: 20},
		ExportConf: types.ExportConf{
			OutputDir:   "output",
			Port:        7890,
			AllowLAN:    true,
			Mode:        "Rule",
			LogLevel:    "info",
			IntervalSec: 300,
		},
	}
}

// LoadIni 加载 nodesieve.ini 配置文件，然后应用环境变量覆盖并校验。
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", fileName, err)
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return fmt.Errorf("failed to map %s: %w", fileName, err)
	}
	ApplyEnv(cfg)
	return Validate(cfg)
}

// ApplyEnv 用环境变量覆盖少数常用配置。
func ApplyEnv(cfg *types.Config) {
	overrideFromEnvInt(&cfg.RankConf.TopN, "NODESIEVE_TOP_N")
	overrideFromEnvString(&cfg.ProbeConf.TestURL, "NODESIEVE_TEST_URL")
	overrideFromEnvString(&cfg.ProbeConf.ReferenceProxy, "NODESIEVE_REFERENCE_PROXY")
}

// Validate 检查配置的取值范围。
func Validate(cfg *types.Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}
	msgs := make([]string, 0, len(validationErrs))
	for _, e := range validationErrs {
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s: field is required", e.Namespace()))
		case "min", "gte":
			msgs = append(msgs, fmt.Sprintf("%s: must be at least %s", e.Namespace(), e.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s: must not exceed %s", e.Namespace(), e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s: validation failed (%s)", e.Namespace(), e.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

type subscriptionsFile struct {
	Subscriptions []string `json:"subscriptions"`
}

// LoadSubscriptions 加载 subscriptions.json 数据文件，忽略空白和重复的条目。
func LoadSubscriptions(fileName string) ([]string, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to read subscriptions file: %w", err)
	}

	var f subscriptionsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", fileName, err)
	}

	seen := make(map[string]bool, len(f.Subscriptions))
	out := make([]string, 0, len(f.Subscriptions))
	for _, s := range f.Subscriptions {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}

// SplitList 拆分逗号分隔的配置值。
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}

func overrideFromEnvString(target *string, envName string) {
	if envValue, ok := os.LookupEnv(envName); ok {
		*target = envValue
	}
}
