package domain

import "strings"

// AccessLevel is the effective permission a user holds on a folder.
// Levels are ordered: a higher value grants strictly more.
type AccessLevel int

const (
	AccessNone AccessLevel = iota
	AccessReadOnly
	AccessFull
)

func (l AccessLevel) String() string {
	switch l {
	case AccessReadOnly:
		return "READ_ONLY"
	case AccessFull:
		return "FULL_ACCESS"
	default:
		return "NONE"
	}
}

func (l AccessLevel) CanRead() bool {
	return l >= AccessReadOnly
}

// ParseAccessLevel maps a stored permission value to a level. Unknown values grant nothing.
func ParseAccessLevel(raw string) AccessLevel {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "FULL_ACCESS":
		return AccessFull
	case "READ_ONLY":
		return AccessReadOnly
	default:
		return AccessNone
	}
}

// AccessVia records which rule produced a decision.
type AccessVia string

const (
	ViaAdmin       AccessVia = "admin"
	ViaRoot        AccessVia = "root"
	ViaDirect      AccessVia = "direct"
	ViaInherited   AccessVia = "inherited"
	ViaNoGrant     AccessVia = "no_grant"
	ViaBrokenChain AccessVia = "broken_chain"
)

// AccessDecision is computed per request and never persisted.
type AccessDecision struct {
	FolderID string      `json:"folder_id"`
	Level    AccessLevel `json:"-"`
	Via      AccessVia   `json:"via"`
	// SourceFolderID is the folder whose grant decided the outcome.
	SourceFolderID string `json:"source_folder_id,omitempty"`
	Steps          int    `json:"steps"`
}

func (d AccessDecision) Allowed() bool {
	return d.Level.CanRead()
}

type Folder struct {
	ID                    string `json:"id"`
	Name                  string `json:"name"`
	ParentID              string `json:"parent_id,omitempty"`
	IsRoot                bool   `json:"is_root"`
	IsPermissionInherited bool   `json:"is_permission_inherited"`
}

type GroupPermission struct {
	FolderID string      `json:"folder_id"`
	GroupID  string      `json:"group_id"`
	Level    AccessLevel `json:"level"`
}

// RootPolicy decides how the root folder is treated during resolution.
type RootPolicy string

const (
	// RootPolicyExplicit requires an explicit grant on the root folder.
	RootPolicyExplicit RootPolicy = "explicit"
	// RootPolicyOpen grants FULL_ACCESS on the root folder to every authenticated user.
	RootPolicyOpen RootPolicy = "open"
)

// Principal is the caller identity resolved for one request.
type Principal struct {
	UserID   string
	GroupIDs []string
	IsAdmin  bool
}
