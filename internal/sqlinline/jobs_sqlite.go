package sqlinline

// SQLite statements keep the audit marker as a leading comment. Timestamps
// are stored as unix nanoseconds.

const QSQLiteCreateJobsTable = `--sql c4aef15c-88e2-465f-88a0-85d818cbeeaf
create table if not exists download_jobs (
    id              text primary key,
    owner           text not null default '',
    source_url      text not null,
    title           text not null,
    thumbnail       text not null default '',
    selected_format text not null,
    status          text not null,
    progress        integer not null default 0 check (progress between 0 and 100),
    error           text not null default '',
    created_at      integer not null,
    updated_at      integer not null
);
`

const QSQLiteCreateJobsIndexes = `--sql b31affe0-6bc3-4bfd-8dac-16ea9e498750
create index if not exists download_jobs_owner_created_idx on download_jobs (owner, created_at desc);
`

const QSQLiteInsertJob = `--sql 923cd3a6-b77f-4e47-8274-51e7dd0f4f5f
insert or ignore into download_jobs (id, owner, source_url, title, thumbnail, selected_format, status, progress, error, created_at, updated_at)
values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`

const QSQLiteSelectJobByID = `--sql 286e1d91-bd58-4e51-8099-71a54b912e5f
select id, owner, source_url, title, thumbnail, selected_format, status, progress, error, created_at, updated_at
from download_jobs
where id = ?;
`

const QSQLiteUpdateJobState = `--sql 864e4d15-21ce-4791-9444-730aeadc5d34
update download_jobs
set status = ?, progress = ?, error = ?, updated_at = ?
where id = ? and status = ? and progress = ?;
`

const QSQLiteListJobsByOwner = `--sql 61631f58-6b66-4ead-bc77-7c87babfd183
select id, owner, source_url, title, thumbnail, selected_format, status, progress, error, created_at, updated_at
from download_jobs
where owner = ?
order by created_at desc, id desc;
`

const QSQLiteListStaleJobs = `--sql 94d2206a-b40b-4b3c-bb5f-d1d42e4897bc
select id, owner, source_url, title, thumbnail, selected_format, status, progress, error, created_at, updated_at
from download_jobs
where status in ('queued', 'in_progress') and updated_at < ?
order by updated_at asc
limit ?;
`
