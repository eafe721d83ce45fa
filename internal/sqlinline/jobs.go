package sqlinline

const jobColumns = `id, status, tool, input_files, output_file, options, progress, coalesce(error, ''), coalesce(mirror_key, ''), created_at, updated_at, expires_at`

const QInsertJob = `--sql 11af3a60-4fe6-4430-827e-e8690cdccb4b
insert into jobs (id, status, tool, input_files, output_file, options, progress, error, created_at, updated_at, expires_at)
values ($1, $2, $3, $4, $5, $6, $7, nullif($8, ''), $9, $9, $10);
`

const QSelectJobByID = `--sql 6492047f-c285-41e0-b71b-fc056f7bf939
select ` + jobColumns + `
from jobs
where id = $1;
`

const QTransitionJob = `--sql 62214a70-879d-404a-b724-98251ff53695
update jobs
set status = $3,
    progress = coalesce($4, progress),
    output_file = $5,
    error = nullif($6, ''),
    mirror_key = coalesce(nullif($7, ''), mirror_key),
    updated_at = now()
where id = $1
  and status = $2;
`

const QUpdateJobProgress = `--sql c46d3059-0eed-40d1-b962-d470156b42fd
update jobs
set progress = $2,
    updated_at = now()
where id = $1
  and status = 'processing'
  and progress < $2;
`

const QSelectJobStatus = `--sql f207dcf4-1ebd-4dd2-b819-a999f3d0b27d
select status
from jobs
where id = $1;
`

const QDeleteJob = `--sql a511f427-74e7-4994-bf8e-29e094f032a4
delete from jobs
where id = $1;
`

const QListExpiredJobs = `--sql 3066cff6-0049-4fa5-ab82-f878d03f7f64
select ` + jobColumns + `
from jobs
where expires_at <= $1
order by expires_at asc;
`

const QListLiveJobs = `--sql ef9fc280-b46e-41d7-8cb3-a1dceda92e30
select ` + jobColumns + `
from jobs
where status in ('pending', 'processing')
   or expires_at > $1;
`

const QListJobsByStatus = `--sql 73b49a84-da98-4620-96f3-35741755c067
select ` + jobColumns + `
from jobs
where status = $1
order by created_at asc;
`

const QListRecentJobs = `--sql 6909b9bf-5e01-47b6-8156-087b4c8026d3
select ` + jobColumns + `
from jobs
order by created_at desc
limit $1;
`
