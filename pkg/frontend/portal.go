package frontend

import (
	"github.com/jackc/pgerrcode"

	"github.com/justjake/pgfront/pkg/pgwire"
)

// StoredStatement is a parsed SQL statement addressable by name. The empty
// name is the unnamed slot, replaced freely; any other name persists until
// closed or the connection terminates.
type StoredStatement struct {
	Name          string
	Query         string
	Parsed        any
	ParameterOIDs []uint32
}

// Portal is a bound, executable instance of a prepared statement. It holds a
// shared reference to its statement; closing the statement invalidates the
// portal.
type Portal struct {
	Name             string
	Statement        *StoredStatement
	ParameterFormats []int16
	Parameters       [][]byte
	ResultFormats    []int16

	// suspended holds the remaining rows after an Execute stopped at its
	// row limit, so the next Execute on this portal resumes the stream.
	suspended RowSource
	// suspendedFields replays the row shape for the resumed stream.
	suspendedFields []FieldInfo
}

// ParameterFormat returns the format code for parameter i per the Bind rules:
// no codes = all text, one code = applies to all, else one per parameter.
func (p *Portal) ParameterFormat(i int) int16 {
	switch len(p.ParameterFormats) {
	case 0:
		return pgwire.TextFormat
	case 1:
		return p.ParameterFormats[0]
	default:
		if i < len(p.ParameterFormats) {
			return p.ParameterFormats[i]
		}
		return pgwire.TextFormat
	}
}

// ResultFormat returns the format code for result column i, same rules.
func (p *Portal) ResultFormat(i int) int16 {
	switch len(p.ResultFormats) {
	case 0:
		return pgwire.TextFormat
	case 1:
		return p.ResultFormats[0]
	default:
		if i < len(p.ResultFormats) {
			return p.ResultFormats[i]
		}
		return pgwire.TextFormat
	}
}

func (p *Portal) closeSuspended() {
	if p.suspended != nil {
		p.suspended.Close()
		p.suspended = nil
		p.suspendedFields = nil
	}
}

// PortalStore owns a connection's prepared statements and portals. It is
// used from the connection's single goroutine and needs no lock.
type PortalStore struct {
	statements map[string]*StoredStatement
	portals    map[string]*Portal
}

// NewPortalStore creates an empty store.
func NewPortalStore() *PortalStore {
	return &PortalStore{
		statements: make(map[string]*StoredStatement),
		portals:    make(map[string]*Portal),
	}
}

// PutStatement stores stmt under its name, silently replacing any existing
// statement and invalidating portals bound against the replaced one.
func (s *PortalStore) PutStatement(stmt *StoredStatement) {
	if old, ok := s.statements[stmt.Name]; ok {
		s.dropPortalsOf(old)
	}
	s.statements[stmt.Name] = stmt
}

// GetStatement looks a statement up by name. A missing non-empty name is a
// 26000 error; the missing unnamed statement reports the same code with the
// protocol's phrasing for the unnamed slot.
func (s *PortalStore) GetStatement(name string) (*StoredStatement, *pgwire.Err) {
	stmt, ok := s.statements[name]
	if !ok {
		if name == "" {
			return nil, pgwire.NewErr(pgwire.ErrorSeverity, pgerrcode.InvalidSQLStatementName,
				"unnamed prepared statement does not exist", nil)
		}
		return nil, pgwire.NewErr(pgwire.ErrorSeverity, pgerrcode.InvalidSQLStatementName,
			`prepared statement "`+name+`" does not exist`, nil)
	}
	return stmt, nil
}

// PutPortal stores portal under its name, silently replacing.
func (s *PortalStore) PutPortal(portal *Portal) {
	if old, ok := s.portals[portal.Name]; ok {
		old.closeSuspended()
	}
	s.portals[portal.Name] = portal
}

// GetPortal looks a portal up by name; missing portals are 34000 errors.
func (s *PortalStore) GetPortal(name string) (*Portal, *pgwire.Err) {
	portal, ok := s.portals[name]
	if !ok {
		if name == "" {
			return nil, pgwire.NewErr(pgwire.ErrorSeverity, pgerrcode.InvalidCursorName,
				"unnamed portal does not exist", nil)
		}
		return nil, pgwire.NewErr(pgwire.ErrorSeverity, pgerrcode.InvalidCursorName,
			`portal "`+name+`" does not exist`, nil)
	}
	return portal, nil
}

// RemoveStatement removes a statement and every portal referencing it.
// Removing a missing name is not an error, matching Close semantics.
func (s *PortalStore) RemoveStatement(name string) {
	stmt, ok := s.statements[name]
	if !ok {
		return
	}
	delete(s.statements, name)
	s.dropPortalsOf(stmt)
}

// RemovePortal removes a portal. Missing names are ignored.
func (s *PortalStore) RemovePortal(name string) {
	if portal, ok := s.portals[name]; ok {
		portal.closeSuspended()
		delete(s.portals, name)
	}
}

// RemoveUnnamedPortal implements the Sync-time destruction of the unnamed
// portal unless it was rebound since.
func (s *PortalStore) RemoveUnnamedPortal() {
	s.RemovePortal("")
}

// Clear removes everything; used at connection termination.
func (s *PortalStore) Clear() {
	for _, portal := range s.portals {
		portal.closeSuspended()
	}
	s.statements = make(map[string]*StoredStatement)
	s.portals = make(map[string]*Portal)
}

func (s *PortalStore) dropPortalsOf(stmt *StoredStatement) {
	for name, portal := range s.portals {
		if portal.Statement == stmt {
			portal.closeSuspended()
			delete(s.portals, name)
		}
	}
}
