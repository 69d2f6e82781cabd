package tracking

import (
	"fmt"
	"strings"
)

// Digest groups tracked packages that need attention from the finance team.
type Digest struct {
	Customs      []Info
	Alerts       []Info
	Problems     []Info
	CustomsEvent string // first customs event seen, translated
}

// Empty reports whether no package needs attention.
func (d Digest) Empty() bool {
	return len(d.Customs) == 0 && len(d.Alerts) == 0 && len(d.Problems) == 0
}

// Total returns the number of packages in the digest.
func (d Digest) Total() int {
	return len(d.Customs) + len(d.Alerts) + len(d.Problems)
}

// BuildDigest classifies packages. Returns to sender are problems even
// when customs wording is present; customs holds come next; then
// exceptions and alerts; then expired and failed deliveries.
func BuildDigest(infos []Info, s *Sanitizer) Digest {
	var d Digest
	for _, info := range infos {
		event := TranslateEvent(latestEvent(info))
		lowerEvent := strings.ToLower(event)
		status := strings.ToLower(info.Status)

		switch {
		case strings.Contains(lowerEvent, "retornando ao remetente"):
			d.Problems = append(d.Problems, info)
		case s.MatchStatus(info.Status, info.SubStatus) || s.Match(event):
			d.Customs = append(d.Customs, info)
			if d.CustomsEvent == "" {
				d.CustomsEvent = event
			}
		case status == "alert" || status == strings.ToLower(StatusException):
			d.Alerts = append(d.Alerts, info)
		case status == strings.ToLower(StatusExpired) || status == "undelivered" || status == strings.ToLower(StatusDeliveryFailure):
			d.Problems = append(d.Problems, info)
		}
	}
	return d
}

// Format renders the digest as a WhatsApp-style message.
func (d Digest) Format() string {
	if d.Empty() {
		return "Nenhum pacote com pendências."
	}

	var b strings.Builder
	b.WriteString("📦 *Resumo de Pacotes*\n")

	if len(d.Customs) > 0 {
		b.WriteString("\n💰 *Taxas Pendentes:*\n")
		for i, info := range d.Customs {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "*%s*", info.Code)
		}
		if d.CustomsEvent != "" {
			fmt.Fprintf(&b, "\n\n_Status: %s_", d.CustomsEvent)
		}
	}
	if len(d.Alerts) > 0 {
		b.WriteString("\n\n⚠️ *Em Alerta:*\n")
		writeLines(&b, d.Alerts)
	}
	if len(d.Problems) > 0 {
		b.WriteString("\n\n❌ *Com Problemas:*\n")
		writeLines(&b, d.Problems)
	}
	return b.String()
}

func writeLines(b *strings.Builder, infos []Info) {
	for i, info := range infos {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(b, "*%s*: %s", info.Code, TranslateEvent(latestEvent(info)))
	}
}

func latestEvent(info Info) string {
	if info.LatestEvent != "" {
		return info.LatestEvent
	}
	if len(info.Events) > 0 {
		return info.Events[0].Description
	}
	return ""
}
