package api

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>SQLWarden Dashboard</title>
<style>
*,*::before,*::after{box-sizing:border-box;margin:0;padding:0}
:root{
  --bg:#0f1117;--bg-card:#161b22;--border:#30363d;
  --text:#e1e4e8;--text-muted:#8b949e;
  --primary:#58a6ff;--green:#3fb950;--red:#f85149;--yellow:#d29922;
  --radius:8px;
}
body{font-family:-apple-system,BlinkMacSystemFont,"Segoe UI",Helvetica,Arial,sans-serif;background:var(--bg);color:var(--text);line-height:1.5;min-height:100vh}
.container{max-width:1100px;margin:0 auto;padding:0 24px 48px}
header{background:var(--bg-card);border-bottom:1px solid var(--border);padding:12px 24px}
.header-inner{max-width:1100px;margin:0 auto;display:flex;align-items:center;gap:16px}
.header-title{font-size:20px;font-weight:700}
.badge{display:inline-flex;align-items:center;gap:6px;padding:2px 10px;border-radius:12px;font-size:12px;font-weight:600;border:1px solid var(--border);margin-left:auto}
.badge-healthy{color:var(--green);border-color:var(--green)}
.badge-unhealthy{color:var(--red);border-color:var(--red)}
.summary{display:grid;grid-template-columns:repeat(4,1fr);gap:16px;margin:24px 0}
.card{background:var(--bg-card);border:1px solid var(--border);border-radius:var(--radius);padding:20px}
.card-label{font-size:12px;text-transform:uppercase;letter-spacing:.5px;color:var(--text-muted);margin-bottom:4px}
.card-value{font-size:32px;font-weight:700;line-height:1.2}
.card-value.danger{color:var(--red)}
h2{font-size:16px;margin:24px 0 12px}
table{width:100%;border-collapse:collapse;background:var(--bg-card);border:1px solid var(--border);border-radius:var(--radius)}
th,td{text-align:left;padding:8px 16px;border-bottom:1px solid var(--border);font-size:14px}
th{color:var(--text-muted);font-weight:600;text-transform:uppercase;font-size:12px;letter-spacing:.5px}
tr:last-child td{border-bottom:none}
td.num{text-align:right;font-variant-numeric:tabular-nums}
.muted{color:var(--text-muted)}
@media(max-width:700px){.summary{grid-template-columns:repeat(2,1fr)}}
</style>
</head>
<body>
<header>
  <div class="header-inner">
    <div class="header-title">SQLWarden</div>
    <span id="health-badge" class="badge">checking&hellip;</span>
  </div>
</header>
<div class="container">
  <div class="summary">
    <div class="card"><div class="card-label">Queries analyzed</div><div id="analyzed" class="card-value">&ndash;</div></div>
    <div class="card"><div class="card-label">Forwarded</div><div id="forwarded" class="card-value">&ndash;</div></div>
    <div class="card"><div class="card-label">Blocked</div><div id="blocked" class="card-value danger">&ndash;</div></div>
    <div class="card"><div class="card-label">Uptime</div><div id="uptime" class="card-value">&ndash;</div></div>
  </div>
  <h2>Blocked by attack type</h2>
  <table>
    <thead><tr><th>Attack</th><th class="num">Blocked</th></tr></thead>
    <tbody id="attacks"><tr><td colspan="2" class="muted">no blocks recorded</td></tr></tbody>
  </table>
  <h2>Queries by statement type</h2>
  <table>
    <thead><tr><th>Type</th><th class="num">Analyzed</th></tr></thead>
    <tbody id="types"><tr><td colspan="2" class="muted">no queries recorded</td></tr></tbody>
  </table>
  <h2>Other</h2>
  <table>
    <tbody>
      <tr><td>Parse errors (blocked)</td><td id="parse-errors" class="num">&ndash;</td></tr>
      <tr><td>Internal errors (blocked)</td><td id="internal-errors" class="num">&ndash;</td></tr>
      <tr><td>Whitelist passes (parse)</td><td id="wl-parse" class="num">&ndash;</td></tr>
      <tr><td>Whitelist passes (block)</td><td id="wl-block" class="num">&ndash;</td></tr>
    </tbody>
  </table>
</div>
<script>
function fmtUptime(s){
  if(s>=3600){return Math.floor(s/3600)+'h '+Math.floor(s%3600/60)+'m'}
  if(s>=60){return Math.floor(s/60)+'m '+(s%60)+'s'}
  return s+'s'
}
function fillTable(id,obj){
  var body=document.getElementById(id);
  var keys=Object.keys(obj||{});
  if(keys.length===0){return}
  body.innerHTML='';
  keys.sort(function(a,b){return obj[b]-obj[a]});
  keys.forEach(function(k){
    var tr=document.createElement('tr');
    tr.innerHTML='<td></td><td class="num"></td>';
    tr.children[0].textContent=k;
    tr.children[1].textContent=obj[k];
    body.appendChild(tr);
  });
}
function refresh(){
  fetch('/stats').then(function(r){return r.json()}).then(function(s){
    document.getElementById('analyzed').textContent=s.analyzed;
    document.getElementById('forwarded').textContent=s.forwarded;
    document.getElementById('blocked').textContent=s.blocked;
    document.getElementById('parse-errors').textContent=s.parse_errors;
    document.getElementById('internal-errors').textContent=s.internal_errors;
    document.getElementById('wl-parse').textContent=s.whitelist_parse_passes;
    document.getElementById('wl-block').textContent=s.whitelist_block_passes;
    fillTable('attacks',s.blocked_by_attack);
    fillTable('types',s.by_query_type);
  });
  fetch('/status').then(function(r){return r.json()}).then(function(s){
    document.getElementById('uptime').textContent=fmtUptime(s.uptime_seconds);
  });
  fetch('/health').then(function(r){
    var badge=document.getElementById('health-badge');
    badge.className='badge '+(r.ok?'badge-healthy':'badge-unhealthy');
    badge.textContent=r.ok?'upstream healthy':'upstream unhealthy';
  });
}
refresh();
setInterval(refresh,5000);
</script>
</body>
</html>
`
