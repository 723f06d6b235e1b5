package notify

type source struct {
	subject string
	body    string
}

const layoutHead = `<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; border: 1px solid #ddd; border-radius: 5px; }
        .content { padding: 20px; }
        .button { display: inline-block; padding: 10px 20px; background-color: #03dac6; color: black; text-decoration: none; border-radius: 4px; font-weight: bold; }
        .excerpt { border-left: 3px solid #ddd; padding-left: 10px; color: #555; }
    </style>
</head>
<body>
    <div class="container">
        <div class="content">
`

const layoutFoot = `
        </div>
    </div>
</body>
</html>
`

var catalog = map[Kind]source{
	KindContactConfirmation: {
		subject: `Confirm your contact details`,
		body: `<p>Hi {{title .Name}},</p>
            <p>Please confirm the contact details you just added.</p>
            <p style="text-align: center;"><a href="{{.Link}}" class="button">Confirm</a></p>`,
	},
	KindPasswordRecovery: {
		subject: `Reset your password`,
		body: `<p>Hi {{title .Name}},</p>
            <p>We received a request to reset your password. The link below is valid for a limited time.</p>
            <p style="text-align: center;"><a href="{{.Link}}" class="button">Reset password</a></p>
            <p>If you didn't ask for this, you can safely ignore this email.</p>`,
	},
	KindSignupConfirmation: {
		subject: `Verify your email`,
		body: `<p>Hi {{title .Name}},</p>
            <p>Thanks for signing up. Please verify your email address to get started.</p>
            <p style="text-align: center;"><a href="{{.Link}}" class="button">Verify email</a></p>`,
	},
	KindUnreadMessage: {
		subject: `{{title .SenderName}} sent you {{if eq .Count 1}}a message{{else}}{{.Count}} messages{{end}} about "{{.ServiceTitle}}"`,
		body: `<p>Hi {{title .RecipientName}},</p>
            <p>{{title .SenderName}} wrote {{if eq .Count 1}}a message{{else}}{{.Count}} messages{{end}} about <strong>{{.ServiceTitle}}</strong> that you haven't read yet.</p>
            {{range .Excerpts}}<p class="excerpt">{{.}}</p>
            {{end}}`,
	},
	KindServiceCancellation: {
		subject: `"{{.ServiceTitle}}" was cancelled`,
		body: `<p>Hi {{title .RecipientName}},</p>
            <p>{{title .RequesterName}} cancelled the requested service <strong>{{.ServiceTitle}}</strong>. Your pending offer was closed.</p>`,
	},
}
