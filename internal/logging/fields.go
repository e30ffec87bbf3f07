package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// StageFields 提供 pipeline/stage/run_id 字段，供流水线日志复用。
func StageFields(pipeline, stage, runID string) logrus.Fields {
	return logrus.Fields{
		"action":   "stage",
		"pipeline": pipeline,
		"stage":    stage,
		"run_id":   runID,
	}
}

// FetchFields 提供依赖下载相关字段；digest 未知时留空。
func FetchFields(url, algo, digest string, cacheHit bool) logrus.Fields {
	fields := logrus.Fields{
		"action":    "cache_resolve",
		"url":       url,
		"algo":      algo,
		"cache_hit": cacheHit,
	}
	if digest != "" {
		fields["digest"] = digest
	}
	return fields
}
