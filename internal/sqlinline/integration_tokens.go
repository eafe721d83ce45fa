package sqlinline

const QSelectIntegrationToken = `--sql 3b0f7e52-91c4-4d0e-9a57-5c2e1f0d8a41
select token, properties
from integration_tokens
where provider = $1::text
limit 1;
`

const QUpsertIntegrationToken = `--sql 9d1c2a77-4e6b-4f38-b0c5-7a3e8d2f1b96
insert into integration_tokens (provider, token, properties, created_at, updated_at)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now(), now())
on conflict (provider) do update set
    token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`

const QDeleteIntegrationToken = `--sql 0e6a4c18-2b7d-45f9-8c31-d94f6a0b7e25
delete from integration_tokens
where provider = $1::text;
`
