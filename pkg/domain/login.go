package domain

// LoginForm describes how to fill and submit the portal's login form.
// Selectors are CSS selectors on the login page.
type LoginForm struct {
	UsernameSelector string
	PasswordSelector string
	SubmitSelector   string
	Username         string
	Password         string
}

// DefaultLoginForm returns the portal's login form selectors with the given credentials.
func DefaultLoginForm(username, password string) LoginForm {
	return LoginForm{
		UsernameSelector: "#username",
		PasswordSelector: "#password",
		SubmitSelector:   "#loginbtn",
		Username:         username,
		Password:         password,
	}
}
