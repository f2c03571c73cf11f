package ai

// Deterministic fallback payloads served when the completion service is
// exhausted. These are a designed degraded mode, not an error path: the
// content is schema-valid for each role so downstream stages never see a
// hard failure from quota exhaustion.

const fallbackFrontendCode = `import React, { useState } from 'react';
import { Sparkles, Info } from 'lucide-react';

export default function App() {
    const [count, setCount] = useState(0);

    return (
        <div className='min-h-screen bg-slate-900 text-white p-8'>
            <div className='max-w-4xl mx-auto'>
                <div className='bg-yellow-500/10 border border-yellow-500 rounded-xl p-4 mb-6 flex items-start gap-3'>
                    <Info className='text-yellow-400 flex-shrink-0' size={24} />
                    <div className='text-sm'>
                        <p className='font-bold text-yellow-400 mb-1'>Demo Mode Active</p>
                        <p className='text-yellow-200'>API quota reached. This is a fallback demo component.</p>
                    </div>
                </div>
                <div className='bg-white/5 rounded-xl p-8 border border-white/10'>
                    <div className='flex items-center gap-3 mb-6'>
                        <Sparkles className='text-purple-400' size={32} />
                        <h1 className='text-3xl font-bold'>Demo Component</h1>
                    </div>
                    <button
                        onClick={() => setCount(count + 1)}
                        className='bg-purple-600 hover:bg-purple-700 px-6 py-2 rounded-lg font-semibold'
                    >
                        Clicked {count} times
                    </button>
                </div>
            </div>
        </div>
    );
}`

const fallbackBackendCode = `from fastapi import FastAPI, HTTPException
from pydantic import BaseModel
from fastapi.middleware.cors import CORSMiddleware

app = FastAPI(title="Demo API - Quota Fallback")

app.add_middleware(
    CORSMiddleware,
    allow_origins=["*"],
    allow_methods=["*"],
    allow_headers=["*"],
)

class Item(BaseModel):
    name: str
    description: str = None

@app.get("/")
async def root():
    return {"message": "Demo API - API quota reached", "status": "fallback_mode"}

@app.get("/items")
async def get_items():
    return {"items": [{"id": 1, "name": "Demo Item"}]}

@app.post("/items")
async def create_item(item: Item):
    return {"message": "Created", "item": item}`

const fallbackSchemaSQL = `-- Demo Database Schema (Fallback Mode)
-- API quota reached.

CREATE TABLE IF NOT EXISTS demo_items (
    id SERIAL PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    description TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX idx_demo_items_name ON demo_items(name);`

const fallbackGenericText = `{"message": "Demo fallback response", "status": "quota_exceeded"}`

// FallbackEnvelope returns the deterministic degraded-mode payload for a
// role. Generation roles get schema-valid demo code; other roles get a
// generic marker their consumers treat as "completion unavailable".
func FallbackEnvelope(role Role) *Envelope {
	switch role {
	case RoleFrontend:
		return envelope(role, fallbackFrontendCode, true)
	case RoleBackend:
		return envelope(role, fallbackBackendCode, true)
	case RoleDatabase:
		return envelope(role, fallbackSchemaSQL, true)
	default:
		return envelope(role, fallbackGenericText, true)
	}
}
