package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

var (
	trialEndingTmpl = template.Must(template.New("trial_ending").Parse(
		`<p>Hello,</p>
<p>your {{.TierName}} trial ends on {{.TrialEnd}}. After that date your membership continues as a paid plan.</p>
<p>If you do not want to continue, you can cancel at any time before then.</p>`))

	paymentFailedTmpl = template.Must(template.New("payment_failed").Parse(
		`<p>Hello,</p>
<p>we could not collect the latest payment for your {{.TierName}} membership via {{.Provider}}.</p>
<p>Please update your payment details to keep your benefits.</p>`))
)

// TrialEnding builds the reminder sent when a trial is about to convert.
func TrialEnding(to, tierName string, trialEnd time.Time) (Message, error) {
	body, err := render(trialEndingTmpl, map[string]string{
		"TierName": tierName,
		"TrialEnd": trialEnd.UTC().Format("January 2, 2006"),
	})
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: fmt.Sprintf("Your %s trial is ending soon", tierName), Body: body}, nil
}

// PaymentFailed builds the notice sent after a failed charge.
func PaymentFailed(to, tierName, provider string) (Message, error) {
	body, err := render(paymentFailedTmpl, map[string]string{
		"TierName": tierName,
		"Provider": provider,
	})
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Payment failed for your membership", Body: body}, nil
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
