package domain

import "strconv"

// AgentKind: тип удаленного агента. Определяет префиксы топиков и ключей статуса.
type AgentKind string

const (
	KindCollector AgentKind = "collector" // Сбор данных с полевых устройств
	KindGateway   AgentKind = "gateway"   // Экспорт данных во внешние системы
)

func (k AgentKind) Valid() bool {
	return k == KindCollector || k == KindGateway
}

// AgentEndpoint: запись из внешнего справочника агентов. Этот слой ее только читает.
type AgentEndpoint struct {
	ID     string    `json:"id"`
	Host   string    `json:"host"`
	IP     string    `json:"ip"`
	Port   int       `json:"port"`
	Kind   AgentKind `json:"kind"`
	Tenant string    `json:"tenant"`
	Site   string    `json:"site"`
}

// Addr возвращает host:port для исходящих запросов.
// Если hostname не задан: используем IP из справочника.
func (e AgentEndpoint) Addr() string {
	host := e.Host
	if host == "" {
		host = e.IP
	}
	return host + ":" + strconv.Itoa(e.Port)
}
