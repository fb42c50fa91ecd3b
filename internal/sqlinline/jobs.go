package sqlinline

const QCreateJobsTable = `--sql 1937c01e-6fba-4d4f-bab5-c7a833a61402
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
    created_at      timestamptz not null,
    updated_at      timestamptz not null
);
create index if not exists download_jobs_owner_created_idx on download_jobs (owner, created_at desc);
create index if not exists download_jobs_status_updated_idx on download_jobs (status, updated_at);
`

const QInsertJob = `--sql 222d33ab-ac6a-4546-bf3b-cec1623fea87
insert into download_jobs (id, owner, source_url, title, thumbnail, selected_format, status, progress, error, created_at, updated_at)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
on conflict (id) do nothing;
`

const QSelectJobByID = `--sql 9f3f321f-be15-4a6e-bd3b-c1c7f456efc9
select id, owner, source_url, title, thumbnail, selected_format, status, progress, error, created_at, updated_at
from download_jobs
where id = $1;
`

const QUpdateJobState = `--sql 00dbed52-756e-46e5-868f-5642a71f7e90
update download_jobs
set status = $4, progress = $5, error = $6, updated_at = $7
where id = $1 and status = $2 and progress = $3;
`

const QListJobsByOwner = `--sql 7ac25000-9941-4fa5-838c-6e2b827bfa55
select id, owner, source_url, title, thumbnail, selected_format, status, progress, error, created_at, updated_at
from download_jobs
where owner = $1
order by created_at desc, id desc;
`

const QListStaleJobs = `--sql afe3e9a2-d10f-4368-b927-debb1bcfcbfd
select id, owner, source_url, title, thumbnail, selected_format, status, progress, error, created_at, updated_at
from download_jobs
where status in ('queued', 'in_progress') and updated_at < $1
order by updated_at asc
limit $2;
`
