package server

import (
	"net/http"
	"strings"

	"lighthousenotes/pkg/domain"
)

const newUserPath = "/account/new-user"

type newUserView struct {
	EmailAddress string
}

// handleNewUser shows the registration form to a signed in user the API
// does not know yet.
func (s *Server) handleNewUser(w http.ResponseWriter, r *http.Request, p *page) {
	s.render(w, r, http.StatusOK, "newuser", p, "New user", newUserView{EmailAddress: p.principal.Email})
}

// handleRegister creates the API user for the signed in identity. The id,
// picture and roles come from the token; the rest from the form.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, p *page) {
	if err := parseForm(w, r); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	in := domain.AddUser{
		ID:             p.principal.Subject,
		ProfilePicture: p.principal.Picture,
		Roles:          p.principal.Roles,
	}
	var err error
	fields := []struct {
		name, label string
		dst         *string
	}{
		{"givenName", "given name", &in.GivenName},
		{"lastName", "last name", &in.LastName},
		{"displayName", "display name", &in.DisplayName},
		{"emailAddress", "email address", &in.EmailAddress},
		{"jobTitle", "job title", &in.JobTitle},
	}
	for _, f := range fields {
		if *f.dst, err = field(r, f.name, f.label, true, maxFieldLength); err != nil {
			s.renderError(w, r, p, err)
			return
		}
	}
	if !strings.Contains(in.EmailAddress, "@") {
		s.renderError(w, r, p, inputError("email address is invalid"))
		return
	}
	if len(in.Roles) == 0 {
		in.Roles = []string{string(domain.RoleUser)}
	}
	if err := s.api.CreateUser(r.Context(), p.token, in); err != nil {
		s.audit(r, "web.account.create", "fail", "subject", in.ID, "err", err)
		s.renderError(w, r, p, err)
		return
	}
	s.audit(r, "web.account.create", "success", "subject", in.ID)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
