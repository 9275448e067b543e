package storage

const createSQL = `
PRAGMA journal_mode = WAL;

-- Emails holds the message record (§3). Body/Preview/Attachments are kept
-- as TEXT/JSON columns since the storage layer is relational-free: it is
-- queried by range and by field projection, never joined.
CREATE TABLE IF NOT EXISTS Emails (
	ID           TEXT PRIMARY KEY,
	UID          INTEGER NOT NULL,
	User         TEXT NOT NULL,
	Folder       TEXT NOT NULL,
	Timestamp    INTEGER NOT NULL, -- ms since epoch

	FromAddr     TEXT NOT NULL,
	FromName     TEXT NOT NULL,
	NormFromName TEXT NOT NULL,
	ToAddrs      TEXT NOT NULL,    -- JSON array
	Subject      TEXT NOT NULL,

	Body         TEXT NOT NULL DEFAULT '',
	Preview      TEXT NOT NULL DEFAULT '',
	IsFullBody   BOOLEAN NOT NULL DEFAULT 0,

	Read         BOOLEAN NOT NULL DEFAULT 0,
	Labels       TEXT NOT NULL DEFAULT '[]',   -- JSON array of label ids
	Category     TEXT NOT NULL DEFAULT '',
	Attachments  TEXT NOT NULL DEFAULT '[]'    -- JSON array
);

CREATE INDEX IF NOT EXISTS EmailsByUserFolderTimestamp
	ON Emails (User, Folder, Timestamp DESC);
CREATE INDEX IF NOT EXISTS EmailsByUserCategory
	ON Emails (User, Category);

-- UserConfigs holds one row per bridge user (§3).
CREATE TABLE IF NOT EXISTS UserConfigs (
	User          TEXT PRIMARY KEY,
	IMAPHost      TEXT NOT NULL DEFAULT '',
	IMAPPort      INTEGER NOT NULL DEFAULT 0,
	SMTPHost      TEXT NOT NULL DEFAULT '',
	SMTPPort      INTEGER NOT NULL DEFAULT 0,
	Pass          TEXT NOT NULL DEFAULT '',
	UseTLS        BOOLEAN NOT NULL DEFAULT 0,
	SetupComplete BOOLEAN NOT NULL DEFAULT 0,
	LastSync      INTEGER NOT NULL DEFAULT 0
);

-- Labels: user-defined tags (§3).
CREATE TABLE IF NOT EXISTS Labels (
	ID    TEXT NOT NULL,
	User  TEXT NOT NULL,
	Name  TEXT NOT NULL,
	Color TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (User, ID)
);

-- SmartRules: classification rules (§3); unique per (user, category, value).
CREATE TABLE IF NOT EXISTS SmartRules (
	User     TEXT NOT NULL,
	Category TEXT NOT NULL,
	Type     TEXT NOT NULL,
	Value    TEXT NOT NULL,
	PRIMARY KEY (User, Category, Value)
);

-- DraftsStaging: durable shadow of an in-flight draft_stage:* hot-cache
-- entry, so a process restart never silently drops a staged draft.
CREATE TABLE IF NOT EXISTS DraftsStaging (
	User              TEXT NOT NULL,
	ClientDraftID     TEXT NOT NULL,
	FromAddr          TEXT NOT NULL DEFAULT '',
	ToAddrs           TEXT NOT NULL DEFAULT '[]',
	Subject           TEXT NOT NULL DEFAULT '',
	Body              TEXT NOT NULL DEFAULT '',
	NewAttachmentKeys TEXT NOT NULL DEFAULT '[]',
	ExistingBlobKeys  TEXT NOT NULL DEFAULT '[]',
	RemoteUID         INTEGER,
	StagedAt          INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (User, ClientDraftID)
);
`
