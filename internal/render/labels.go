package render

// DefaultLanguage is the fallback when a recipient's language is missing or
// unsupported.
const DefaultLanguage = "en"

var labels = map[string]map[string]string{
	"en": {
		"report_title":   "📊 Internet Speed Report",
		"last_hour":      "last hour",
		"download":       "Download",
		"upload":         "Upload",
		"ping":           "Ping",
		"status":         "Status",
		"test_server":    "Test Server",
		"isp":            "ISP",
		"os":             "OS",
		"server":         "Server",
		"desc":           "Description",
		"id":             "ID",
		"time":           "Time",
		"results":        "Results",
		"error":          "Error",
		"offline":        "No data",
		"ok":             "Good",
		"degraded":       "Degraded",
		"stale":          "stale",
		"last_seen":      "last seen %d min ago",
		"cluster_ok":     "All nodes healthy",
		"cluster_bad":    "Cluster degraded",
		"tier_very_low":  "Very Low",
		"tier_low":       "Low",
		"tier_medium":    "Normal",
		"tier_good":      "Good",
		"tier_excellent": "Excellent",
	},
	"ru": {
		"report_title":   "📊 Отчет о скорости интернета",
		"last_hour":      "последний час",
		"download":       "Загрузка",
		"upload":         "Отдача",
		"ping":           "Пинг",
		"status":         "Статус",
		"test_server":    "Тестовый сервер",
		"isp":            "Провайдер",
		"os":             "ОС",
		"server":         "Сервер",
		"desc":           "Описание",
		"id":             "ID",
		"time":           "Время",
		"results":        "Результаты",
		"error":          "Ошибка",
		"offline":        "Нет данных",
		"ok":             "Хорошо",
		"degraded":       "Просадка",
		"stale":          "устарело",
		"last_seen":      "был на связи %d мин назад",
		"cluster_ok":     "Все узлы в порядке",
		"cluster_bad":    "Кластер деградирует",
		"tier_very_low":  "Очень низко",
		"tier_low":       "Низко",
		"tier_medium":    "Нормально",
		"tier_good":      "Хорошо",
		"tier_excellent": "Отлично",
	},
}

var tierEmojis = map[string]string{
	"very_low":  "🚨❌",
	"low":       "⚠️🐌",
	"medium":    "✅🚗",
	"good":      "👍🛜",
	"excellent": "🚀⚡",
}

// Label returns the localized string for key, falling back to the default
// language and finally to the key itself.
func Label(lang, key string) string {
	if m, ok := labels[lang]; ok {
		if s, ok := m[key]; ok {
			return s
		}
	}
	if s, ok := labels[DefaultLanguage][key]; ok {
		return s
	}
	return key
}

// Supported reports whether lang has a label table.
func Supported(lang string) bool {
	_, ok := labels[lang]
	return ok
}

// TierEmoji returns the glyph pair for a tier name.
func TierEmoji(tier string) string {
	if e, ok := tierEmojis[tier]; ok {
		return e
	}
	return "❓"
}
