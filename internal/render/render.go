// Package render turns aggregated views into Telegram-ready HTML text. Every
// function is pure: identical inputs produce byte-identical output.
package render

import (
	"fmt"
	"strings"

	"github.com/speedwatch/speedwatch/internal/models"
	"github.com/speedwatch/speedwatch/internal/status"
)

const fallbackFlag = "🛰️"

// Digest renders a view for one recipient according to its preferences.
func Digest(view models.AggregatedView, pref models.RecipientPref) string {
	lang := pref.Language
	if !Supported(lang) {
		lang = DefaultLanguage
	}
	if pref.ViewMode == models.ViewDetailed {
		return detailed(view, lang)
	}
	return compact(view, lang)
}

// compact: one line per node — flag, name, download/upload figures, tier.
func compact(view models.AggregatedView, lang string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b> (%s)\n", Label(lang, "report_title"), Label(lang, "last_hour"))

	for _, e := range view.Entries {
		b.WriteString("\n")
		flag, name := displayIdentity(e.Meta)
		if e.Online && e.Report != nil {
			fmt.Fprintf(&b, "%s %s — %.0f / %.0f Mbps, ping %.1f ms — %s %s",
				flag, name,
				e.Report.DownloadMbps, e.Report.UploadMbps, e.Report.PingMs,
				TierEmoji(e.Tier), Label(lang, "tier_"+e.Tier))
		} else {
			fmt.Fprintf(&b, "%s %s — %s 🔴", flag, name, Label(lang, "offline"))
		}
	}
	return b.String()
}

// detailed: cluster banner, then a full block per node with capture age.
func detailed(view models.AggregatedView, lang string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b> (%s)\n", Label(lang, "report_title"), Label(lang, "last_hour"))

	if view.ClusterStatus == status.ClusterOK {
		fmt.Fprintf(&b, "✅ %s", Label(lang, "cluster_ok"))
	} else {
		fmt.Fprintf(&b, "⚠️ %s", Label(lang, "cluster_bad"))
	}
	fmt.Fprintf(&b, " — %s %d | %s %d | %s %d\n",
		Label(lang, "ok"), view.Summary[status.NodeOK],
		Label(lang, "degraded"), view.Summary[status.NodeDegraded],
		Label(lang, "offline"), view.Summary[status.NodeOffline])

	for i, e := range view.Entries {
		b.WriteString("\n")
		flag, name := displayIdentity(e.Meta)
		fmt.Fprintf(&b, "<b>%s %s</b>\n", flag, name)

		if e.Online && e.Report != nil {
			r := e.Report
			fmt.Fprintf(&b, "⬇️ %s: %s\n", Label(lang, "download"), FormatSpeed(r.DownloadMbps))
			fmt.Fprintf(&b, "⬆️ %s: %s\n", Label(lang, "upload"), FormatSpeed(r.UploadMbps))
			fmt.Fprintf(&b, "📡 %s: %s\n", Label(lang, "ping"), FormatPing(r.PingMs))
			fmt.Fprintf(&b, "📈 %s: %s %s\n", Label(lang, "status"), TierEmoji(e.Tier), Label(lang, "tier_"+e.Tier))
			fmt.Fprintf(&b, "🕐 %s\n", fmt.Sprintf(Label(lang, "last_seen"), e.AgeMinutes))
			if r.TestServer != "" {
				fmt.Fprintf(&b, "🌐 %s: %s\n", Label(lang, "test_server"), r.TestServer)
			}
			if r.ISP != "" {
				fmt.Fprintf(&b, "🏢 %s: %s\n", Label(lang, "isp"), r.ISP)
			}
			if r.OSInfo != "" {
				fmt.Fprintf(&b, "💻 %s: %s\n", Label(lang, "os"), r.OSInfo)
			}
		} else {
			fmt.Fprintf(&b, "🔴 %s (%s)\n", Label(lang, "offline"), Label(lang, "stale"))
		}

		if i < len(view.Entries)-1 {
			b.WriteString("\n———\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func displayIdentity(meta models.NodeMeta) (flag, name string) {
	flag = meta.Flag
	if flag == "" {
		flag = fallbackFlag
	}
	name = meta.DisplayName
	if name == "" {
		name = meta.NodeID
	}
	return flag, name
}

// FormatSpeed formats a Mbps figure, switching to Gbps past 1000.
func FormatSpeed(mbps float64) string {
	if mbps >= 1000 {
		return fmt.Sprintf("%.2f Gbps", mbps/1000)
	}
	return fmt.Sprintf("%.2f Mbps", mbps)
}

// FormatPing formats a ping figure in milliseconds.
func FormatPing(ms float64) string {
	return fmt.Sprintf("%.2f ms", ms)
}

// Identity describes the reporting host in single mode.
type Identity struct {
	Name        string
	Location    string
	ID          string
	Description string
	OSInfo      string
	Timestamp   string
}

// Single renders one local measurement for single mode. errMsg, when
// non-empty, produces the failure layout instead of results.
func Single(r models.Report, tier, errMsg string, id Identity, lang, mode string) string {
	if !Supported(lang) {
		lang = DefaultLanguage
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", Label(lang, "report_title"))

	if errMsg == "" && mode == models.ViewCompact {
		fmt.Fprintf(&b, "⬇️ %s | ⬆️ %s | 📡 %s\n",
			FormatSpeed(r.DownloadMbps), FormatSpeed(r.UploadMbps), FormatPing(r.PingMs))
		fmt.Fprintf(&b, "%s %s", TierEmoji(tier), Label(lang, "tier_"+tier))
		return b.String()
	}

	fmt.Fprintf(&b, "\n🖥 <b>%s:</b> %s", Label(lang, "server"), id.Name)
	if id.Location != "" {
		fmt.Fprintf(&b, " (%s)", id.Location)
	}
	b.WriteString("\n")
	if id.Description != "" {
		fmt.Fprintf(&b, "📝 <b>%s:</b> %s\n", Label(lang, "desc"), id.Description)
	}
	fmt.Fprintf(&b, "🆔 <b>%s:</b> %s\n", Label(lang, "id"), id.ID)
	fmt.Fprintf(&b, "🕐 <b>%s:</b> %s\n", Label(lang, "time"), id.Timestamp)

	if errMsg != "" {
		fmt.Fprintf(&b, "\n❌ <b>%s:</b> %s\n", Label(lang, "error"), errMsg)
	} else {
		fmt.Fprintf(&b, "\n📶 <b>%s:</b>\n", Label(lang, "results"))
		fmt.Fprintf(&b, "⬇️ <b>%s:</b> %s\n", Label(lang, "download"), FormatSpeed(r.DownloadMbps))
		fmt.Fprintf(&b, "⬆️ <b>%s:</b> %s\n", Label(lang, "upload"), FormatSpeed(r.UploadMbps))
		fmt.Fprintf(&b, "📡 <b>%s:</b> %s\n", Label(lang, "ping"), FormatPing(r.PingMs))
		fmt.Fprintf(&b, "\n📈 <b>%s:</b> %s %s\n", Label(lang, "status"), TierEmoji(tier), Label(lang, "tier_"+tier))
		if r.TestServer != "" {
			fmt.Fprintf(&b, "\n🌐 <b>%s:</b> %s\n", Label(lang, "test_server"), r.TestServer)
		}
		if r.ISP != "" {
			fmt.Fprintf(&b, "🏢 <b>%s:</b> %s\n", Label(lang, "isp"), r.ISP)
		}
	}

	if id.OSInfo != "" {
		fmt.Fprintf(&b, "💻 <b>%s:</b> %s", Label(lang, "os"), id.OSInfo)
	}
	return strings.TrimRight(b.String(), "\n")
}
