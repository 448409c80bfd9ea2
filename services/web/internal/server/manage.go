package server

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"lighthousenotes/pkg/domain"
	"lighthousenotes/services/web/internal/apiclient"
	"lighthousenotes/services/web/internal/settings"
)

const (
	maxFieldLength   = 200
	maxPatternLength = 50
)

var knownRoles = []domain.Role{domain.RoleUser, domain.RoleSIO, domain.RoleOrganizationAdministrator}

// parseForm bounds and parses a form post.
func parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		return inputError("the form could not be read")
	}
	return nil
}

// field returns a trimmed form value. Required values must be non-empty and
// every value must fit max bytes.
func field(r *http.Request, name, label string, required bool, max int) (string, error) {
	v := strings.TrimSpace(r.PostFormValue(name))
	if required && v == "" {
		return "", inputError(label + " is required")
	}
	if len(v) > max {
		return "", inputError(label + " is too long")
	}
	return v, nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func hasAnyRole(p *page, roles ...domain.Role) bool {
	for _, role := range roles {
		if p.principal.HasRole(string(role)) {
			return true
		}
	}
	return false
}

func canManageCases(p *page) bool {
	return hasAnyRole(p, domain.RoleSIO, domain.RoleOrganizationAdministrator)
}

func isAdmin(p *page) bool {
	return hasAnyRole(p, domain.RoleOrganizationAdministrator)
}

// formRoles reads the role checkboxes, rejecting names outside knownRoles.
func formRoles(r *http.Request) ([]string, error) {
	var roles []string
	for _, raw := range r.PostForm["role"] {
		role := domain.Role(strings.TrimSpace(raw))
		if !slices.Contains(knownRoles, role) {
			return nil, inputError("unknown role " + string(role))
		}
		if !slices.Contains(roles, string(role)) {
			roles = append(roles, string(role))
		}
	}
	return roles, nil
}

func (s *Server) handleCreateCase(w http.ResponseWriter, r *http.Request, p *page) {
	if !canManageCases(p) {
		s.renderError(w, r, p, errForbidden)
		return
	}
	in, err := caseForm(w, r)
	if err != nil {
		s.renderError(w, r, p, err)
		return
	}
	if err := s.api.CreateCase(r.Context(), p.token, in); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func caseForm(w http.ResponseWriter, r *http.Request) (domain.AddCase, error) {
	if err := parseForm(w, r); err != nil {
		return domain.AddCase{}, err
	}
	var in domain.AddCase
	var err error
	if in.Name, err = field(r, "name", "case name", true, maxFieldLength); err != nil {
		return domain.AddCase{}, err
	}
	if in.DisplayID, err = field(r, "displayId", "case id", true, maxFieldLength); err != nil {
		return domain.AddCase{}, err
	}
	if in.SIOUserID, err = field(r, "sioUserId", "SIO", false, maxFieldLength); err != nil {
		return domain.AddCase{}, err
	}
	for _, id := range r.PostForm["userId"] {
		if id = strings.TrimSpace(id); id != "" && !slices.Contains(in.UserIDs, id) {
			in.UserIDs = append(in.UserIDs, id)
		}
	}
	return in, nil
}

func (s *Server) handleUpdateCase(w http.ResponseWriter, r *http.Request, p *page) {
	caseID := r.PathValue("caseID")
	if !canManageCases(p) {
		s.renderError(w, r, p, errForbidden)
		return
	}
	if err := parseForm(w, r); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	var update domain.UpdateCase
	for name, dst := range map[string]**string{
		"name":      &update.Name,
		"displayId": &update.DisplayID,
		"status":    &update.Status,
		"sioUserId": &update.SIOUserID,
	} {
		v, err := field(r, name, name, false, maxFieldLength)
		if err != nil {
			s.renderError(w, r, p, err)
			return
		}
		*dst = optional(v)
	}
	if update == (domain.UpdateCase{}) {
		s.renderError(w, r, p, inputError("nothing to update"))
		return
	}
	if err := s.api.UpdateCase(r.Context(), p.token, caseID, update); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	http.Redirect(w, r, caseLink(caseID, domain.Personal, ""), http.StatusSeeOther)
}

func (s *Server) handleAddCaseUser(w http.ResponseWriter, r *http.Request, p *page) {
	caseID := r.PathValue("caseID")
	if !canManageCases(p) {
		s.renderError(w, r, p, errForbidden)
		return
	}
	if err := parseForm(w, r); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	userID, err := field(r, "userId", "user", true, maxFieldLength)
	if err != nil {
		s.renderError(w, r, p, err)
		return
	}
	if err := s.api.AddCaseUser(r.Context(), p.token, caseID, userID); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	http.Redirect(w, r, caseLink(caseID, domain.Personal, ""), http.StatusSeeOther)
}

func (s *Server) handleRemoveCaseUser(w http.ResponseWriter, r *http.Request, p *page) {
	caseID := r.PathValue("caseID")
	if !canManageCases(p) {
		s.renderError(w, r, p, errForbidden)
		return
	}
	if err := s.api.RemoveCaseUser(r.Context(), p.token, caseID, r.PathValue("userID")); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	http.Redirect(w, r, caseLink(caseID, domain.Personal, ""), http.StatusSeeOther)
}

// handleCreateExhibit reads the seizure time in the user's time zone.
func (s *Server) handleCreateExhibit(w http.ResponseWriter, r *http.Request, p *page) {
	caseID := r.PathValue("caseID")
	if err := parseForm(w, r); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	var in domain.AddExhibit
	var err error
	fields := []struct {
		name, label string
		dst         *string
		required    bool
	}{
		{"reference", "reference", &in.Reference, true},
		{"description", "description", &in.Description, true},
		{"whereSeizedProduced", "where seized or produced", &in.WhereSeizedProduced, true},
		{"seizedBy", "seized by", &in.SeizedBy, true},
	}
	for _, f := range fields {
		if *f.dst, err = field(r, f.name, f.label, f.required, maxFieldLength); err != nil {
			s.renderError(w, r, p, err)
			return
		}
	}
	seized := strings.TrimSpace(r.PostFormValue("dateTimeSeizedProduced"))
	at, err := time.ParseInLocation("2006-01-02T15:04", seized, p.settings.Location())
	if err != nil {
		s.renderError(w, r, p, inputError("date and time seized or produced is required"))
		return
	}
	in.DateTimeSeizedProduced = at.UTC()
	if err := s.api.CreateExhibit(r.Context(), p.token, caseID, in); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	http.Redirect(w, r, caseLink(caseID, domain.Personal, "exhibits"), http.StatusSeeOther)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request, p *page) {
	s.render(w, r, http.StatusOK, "settings", p, "Settings", p.settings)
}

// handleSaveSettings stores new preferences and forgets the cached record,
// so the next page resolves the updated settings and culture.
func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request, p *page) {
	if err := parseForm(w, r); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	var in domain.UserSettings
	var err error
	if in.TimeZone, err = field(r, "timeZone", "time zone", true, maxPatternLength); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	if _, err := time.LoadLocation(in.TimeZone); err != nil {
		s.renderError(w, r, p, inputError("unknown time zone "+in.TimeZone))
		return
	}
	if in.DateFormat, err = field(r, "dateFormat", "date format", true, maxPatternLength); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	if in.TimeFormat, err = field(r, "timeFormat", "time format", true, maxPatternLength); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	in.Locale = strings.TrimSpace(r.PostFormValue("locale"))
	if !validCulture(in.Locale) {
		s.renderError(w, r, p, inputError("unknown locale"))
		return
	}
	if err := s.api.UpdateUserSettings(r.Context(), p.token, in); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	if err := settings.NewResolver(settings.Config{Store: p.store}).Remove(r.Context()); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	s.audit(r, "web.settings.update", "success")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type organizationView struct {
	domain.OrganizationSettings
	HasS3Secret          bool
	HasMeilisearchAPIKey bool
}

func (s *Server) handleOrganization(w http.ResponseWriter, r *http.Request, p *page) {
	if !isAdmin(p) {
		s.renderError(w, r, p, errForbidden)
		return
	}
	org, err := s.api.OrganizationSettings(r.Context(), p.token)
	if err != nil {
		s.renderError(w, r, p, err)
		return
	}
	view := organizationView{
		OrganizationSettings: org,
		HasS3Secret:          org.S3SecretKey != "",
		HasMeilisearchAPIKey: org.MeilisearchAPIKey != "",
	}
	view.S3SecretKey, view.MeilisearchAPIKey = "", ""
	s.render(w, r, http.StatusOK, "organization", p, "Organization", view)
}

// handleSaveOrganization leaves secrets unchanged when their fields are blank.
func (s *Server) handleSaveOrganization(w http.ResponseWriter, r *http.Request, p *page) {
	if !isAdmin(p) {
		s.renderError(w, r, p, errForbidden)
		return
	}
	if err := parseForm(w, r); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	org := domain.OrganizationSettings{
		S3NetworkEncryption: r.PostFormValue("s3NetworkEncryption") == "on",
		S3SecretKey:         r.PostFormValue("s3SecretKey"),
		MeilisearchAPIKey:   r.PostFormValue("meilisearchApiKey"),
	}
	for name, dst := range map[string]*string{
		"s3Endpoint":     &org.S3Endpoint,
		"s3BucketName":   &org.S3BucketName,
		"s3AccessKey":    &org.S3AccessKey,
		"meilisearchUrl": &org.MeilisearchURL,
	} {
		v, err := field(r, name, name, false, maxFieldLength)
		if err != nil {
			s.renderError(w, r, p, err)
			return
		}
		*dst = v
	}
	if org.MeilisearchURL != "" {
		if u, err := url.Parse(org.MeilisearchURL); err != nil || u.Scheme == "" || u.Host == "" {
			s.renderError(w, r, p, inputError("search url must be absolute"))
			return
		}
	}
	if err := s.api.UpdateOrganizationConfig(r.Context(), p.token, org); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	s.audit(r, "web.organization.update", "success")
	http.Redirect(w, r, "/organization", http.StatusSeeOther)
}

type usersView struct {
	Users  []domain.User
	Pager  pager
	Search string
	Roles  []domain.Role
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request, p *page) {
	if !isAdmin(p) {
		s.renderError(w, r, p, errForbidden)
		return
	}
	pageNum, pageSize := pageParams(r, 25)
	q := apiclient.UserQuery{
		Page:     pageNum,
		PageSize: pageSize,
		Sort:     r.URL.Query().Get("sort"),
		Search:   strings.TrimSpace(r.URL.Query().Get("search")),
	}
	pg, users, err := s.api.Users(r.Context(), p.token, q)
	if err != nil {
		s.renderError(w, r, p, err)
		return
	}
	s.render(w, r, http.StatusOK, "users", p, "Users", usersView{
		Users:  users,
		Pager:  newPager(r, pg, pageSize),
		Search: q.Search,
		Roles:  knownRoles,
	})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request, p *page) {
	if !isAdmin(p) {
		s.renderError(w, r, p, errForbidden)
		return
	}
	if err := parseForm(w, r); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	var in domain.AddUser
	var err error
	fields := []struct {
		name, label string
		dst         *string
		required    bool
	}{
		{"id", "identity id", &in.ID, true},
		{"emailAddress", "email address", &in.EmailAddress, true},
		{"givenName", "given name", &in.GivenName, true},
		{"lastName", "last name", &in.LastName, true},
		{"displayName", "display name", &in.DisplayName, true},
		{"jobTitle", "job title", &in.JobTitle, false},
		{"profilePicture", "profile picture", &in.ProfilePicture, false},
	}
	for _, f := range fields {
		if *f.dst, err = field(r, f.name, f.label, f.required, maxFieldLength); err != nil {
			s.renderError(w, r, p, err)
			return
		}
	}
	if !strings.Contains(in.EmailAddress, "@") {
		s.renderError(w, r, p, inputError("email address is invalid"))
		return
	}
	if in.Roles, err = formRoles(r); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	if len(in.Roles) == 0 {
		in.Roles = []string{string(domain.RoleUser)}
	}
	if err := s.api.CreateUser(r.Context(), p.token, in); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	s.audit(r, "web.user.create", "success", "email", in.EmailAddress)
	http.Redirect(w, r, "/users", http.StatusSeeOther)
}

type userEditView struct {
	User  domain.User
	Roles []domain.Role
	Self  bool
}

func (s *Server) handleEditUser(w http.ResponseWriter, r *http.Request, p *page) {
	if !isAdmin(p) {
		s.renderError(w, r, p, errForbidden)
		return
	}
	userID := r.PathValue("userID")
	u, err := s.api.User(r.Context(), p.token, userID)
	if err != nil {
		s.renderError(w, r, p, err)
		return
	}
	s.render(w, r, http.StatusOK, "useredit", p, u.DisplayName, userEditView{
		User:  u,
		Roles: knownRoles,
		Self:  u.ID == p.settings.UserID,
	})
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request, p *page) {
	if !isAdmin(p) {
		s.renderError(w, r, p, errForbidden)
		return
	}
	userID := r.PathValue("userID")
	if err := parseForm(w, r); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	var update domain.UpdateUser
	for name, dst := range map[string]**string{
		"jobTitle":       &update.JobTitle,
		"givenName":      &update.GivenName,
		"lastName":       &update.LastName,
		"displayName":    &update.DisplayName,
		"emailAddress":   &update.EmailAddress,
		"profilePicture": &update.ProfilePicture,
	} {
		v, err := field(r, name, name, false, maxFieldLength)
		if err != nil {
			s.renderError(w, r, p, err)
			return
		}
		*dst = optional(v)
	}
	roles, err := formRoles(r)
	if err != nil {
		s.renderError(w, r, p, err)
		return
	}
	if userID == p.settings.UserID && len(roles) > 0 && !slices.Contains(roles, string(domain.RoleOrganizationAdministrator)) {
		s.renderError(w, r, p, inputError("you cannot remove your own administrator role"))
		return
	}
	update.Roles = roles
	if err := s.api.UpdateUser(r.Context(), p.token, userID, update); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	s.audit(r, "web.user.update", "success", "user_id", userID)
	http.Redirect(w, r, "/users/"+url.PathEscape(userID), http.StatusSeeOther)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request, p *page) {
	if !isAdmin(p) {
		s.renderError(w, r, p, errForbidden)
		return
	}
	userID := r.PathValue("userID")
	if userID == p.settings.UserID {
		s.renderError(w, r, p, inputError("you cannot delete your own account"))
		return
	}
	if err := s.api.DeleteUser(r.Context(), p.token, userID); err != nil {
		s.renderError(w, r, p, err)
		return
	}
	s.audit(r, "web.user.delete", "success", "user_id", userID)
	http.Redirect(w, r, "/users", http.StatusSeeOther)
}
