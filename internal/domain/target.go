package domain

import "fmt"

// TargetURLFormat - шаблон адреса preview-сервиса podtato-head.
// Порядок плейсхолдеров: service, stage, subpath.
const TargetURLFormat = "http://podtato-%s-preview.podtatohead-%s.svc.cluster.local:8080/%s"

// Имена внешних параметров (переменные окружения)
const (
	ParamService = "SERVICE"
	ParamStage   = "STAGE"
	ParamSubpath = "SUBPATH"
)

// Target описывает проверяемый сервис. Неизменяем в рамках прогона.
type Target struct {
	Service string `mapstructure:"service" json:"service"`
	Stage   string `mapstructure:"stage" json:"stage"`
	Subpath string `mapstructure:"subpath" json:"subpath"`
}

// URL подставляет параметры в шаблон как есть, без URL-кодирования.
func (t Target) URL() string {
	return fmt.Sprintf(TargetURLFormat, t.Service, t.Stage, t.Subpath)
}

// Missing возвращает имена незаданных параметров в порядке шаблона.
func (t Target) Missing() []string {
	var missing []string
	if t.Service == "" {
		missing = append(missing, ParamService)
	}
	if t.Stage == "" {
		missing = append(missing, ParamStage)
	}
	if t.Subpath == "" {
		missing = append(missing, ParamSubpath)
	}
	return missing
}
